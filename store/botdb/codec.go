package botdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// compressionThreshold is the minimum payload size before compression is
	// considered. zstd overhead is not worth it for smaller payloads.
	compressionThreshold = 2 * 1024

	// maxDecompressedSize is the hard cap during decompression to prevent
	// compression bombs.
	maxDecompressedSize = 10 * 1024 * 1024 // 10MB
)

// Payload encoding markers, stored as the first byte of every value.
const (
	encodingIdentity byte = 0
	encodingZstd     byte = 1
)

// ErrDecompressionBomb is returned when decompressed size exceeds the limit.
var ErrDecompressionBomb = errors.New("decompressed payload exceeds maximum size")

// PayloadCodec handles value encoding/decoding with optional compression.
// Encoder and decoder are goroutine-safe and can be reused.
type PayloadCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewPayloadCodec creates a new codec with pooled zstd encoder/decoder.
func NewPayloadCodec() (*PayloadCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &PayloadCodec{
		encoder: enc,
		decoder: dec,
	}, nil
}

// Close releases encoder/decoder resources.
func (c *PayloadCodec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode marshals v to JSON and compresses it if beneficial. The result
// carries a one-byte encoding marker prefix.
func (c *PayloadCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}

	if len(data) < compressionThreshold {
		return append([]byte{encodingIdentity}, data...), nil
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()

	if enc == nil {
		return append([]byte{encodingIdentity}, data...), nil
	}

	compressed := enc.EncodeAll(data, make([]byte, 1, len(data)/2))
	compressed[0] = encodingZstd
	if len(compressed) >= len(data)+1 {
		return append([]byte{encodingIdentity}, data...), nil
	}
	return compressed, nil
}

// Decode decompresses a stored value if needed and unmarshals it into v.
func (c *PayloadCodec) Decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return errors.New("empty payload")
	}

	switch payload[0] {
	case encodingIdentity:
		return json.Unmarshal(payload[1:], v)
	case encodingZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()

		if dec == nil {
			return errors.New("decoder not initialized")
		}

		data, err := dec.DecodeAll(payload[1:], nil)
		if err != nil {
			return fmt.Errorf("decompressing payload: %w", err)
		}
		if len(data) > maxDecompressedSize {
			return ErrDecompressionBomb
		}
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported payload encoding: %d", payload[0])
	}
}
