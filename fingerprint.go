package filegate

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the size of a BLAKE3 fingerprint in bytes (256 bits).
const FingerprintSize = 32

// Fingerprint is a BLAKE3 256-bit digest identifying a catalog record by its
// dedup key and file name. It is stored on the record for stats and debugging;
// the dedup key itself remains (ChannelID, MessageID).
type Fingerprint [FingerprintSize]byte

// String returns the hex-encoded representation of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ShortString returns a shortened hex representation for display.
func (f Fingerprint) ShortString() string {
	return hex.EncodeToString(f[:8])
}

// IsZero returns true if the fingerprint is all zeros (uninitialized).
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText encodes the fingerprint as hex, so stored payloads stay
// readable.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes a hex-encoded fingerprint.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding fingerprint: %w", err)
	}
	if len(decoded) != FingerprintSize {
		return fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(decoded))
	}
	copy(f[:], decoded)
	return nil
}

// RecordFingerprint computes the fingerprint for a catalog record.
// Layout hashed: 8-byte channel id, 8-byte message id, file name bytes.
func RecordFingerprint(channelID, messageID int64, fileName string) Fingerprint {
	buf := make([]byte, 16+len(fileName))
	binary.BigEndian.PutUint64(buf[:8], uint64(channelID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(messageID))
	copy(buf[16:], fileName)
	return Fingerprint(blake3.Sum256(buf))
}
