package botdb

import (
	"encoding/binary"
	"time"
)

// Bucket names for bbolt storage.
var (
	// Access tokens
	bucketTokens          = []byte("tokens")             // token_id -> AccessToken payload
	bucketTokensByUser    = []byte("tokens_by_user")     // 8-byte user id -> token_id
	bucketTokensByExpiry  = []byte("tokens_by_expiry")   // timestamp+token_id -> token_id
	bucketTokenExpiryByID = []byte("token_expiry_by_id") // token_id -> 8-byte timestamp (reverse index for O(1) delete)

	// Session authorizations, keyed by user. The authorized_until instant is
	// both the payload field and the expiry index timestamp, so sessions need
	// no reverse index: the forward key is derivable from the payload.
	bucketSessions         = []byte("sessions")           // 8-byte user id -> SessionAuthorization payload
	bucketSessionsByExpiry = []byte("sessions_by_expiry") // timestamp+user id -> user id

	// File catalog
	bucketCatalog      = []byte("catalog")       // channel id + message id -> CatalogRecord payload
	bucketCatalogTerms = []byte("catalog_terms") // term+separator+record key -> nil (filename term index)

	// Allowed channels
	bucketChannels = []byte("channels") // 8-byte channel id -> AllowedChannel payload
)

// encodeInt64 converts a signed integer to a fixed-width big-endian byte
// slice whose lexicographic order matches numeric order. Channel ids are
// negative for Telegram supergroups, so the sign bit must be shifted.
func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	// Offset by math.MinInt64 to convert signed to unsigned while preserving order.
	binary.BigEndian.PutUint64(buf, uint64(v-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// decodeInt64 reverses encodeInt64.
func decodeInt64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	u := binary.BigEndian.Uint64(b[:8])
	return int64(u) + (-1 << 63) //nolint:gosec // intentional unsigned->signed shift
}

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte slice.
// This ensures correct lexicographic ordering for time-based indexes.
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// decodeTimestamp converts a big-endian byte slice back to time.Time.
func decodeTimestamp(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	u := binary.BigEndian.Uint64(b[:8])
	ns := int64(u) + (-1 << 63) //nolint:gosec // intentional unsigned->signed shift
	return time.Unix(0, ns).UTC()
}

// recordKey creates the catalog key for a (channel_id, message_id) dedup key.
// Format: [8-byte channel id][8-byte message id]. The compound layout makes a
// per-channel prefix scan iterate records in message-id order.
func recordKey(channelID, messageID int64) []byte {
	key := make([]byte, 16)
	copy(key[:8], encodeInt64(channelID))
	copy(key[8:], encodeInt64(messageID))
	return key
}

// parseRecordKey extracts the dedup key parts from a catalog key.
func parseRecordKey(key []byte) (channelID, messageID int64) {
	if len(key) < 16 {
		return 0, 0
	}
	return decodeInt64(key[:8]), decodeInt64(key[8:16])
}

// makeTokenExpiryKey creates a key for the tokens_by_expiry index.
// Format: [8-byte timestamp][token id]
func makeTokenExpiryKey(expiresAt time.Time, tokenID string) []byte {
	ts := encodeTimestamp(expiresAt)
	key := make([]byte, 8+len(tokenID))
	copy(key[:8], ts)
	copy(key[8:], tokenID)
	return key
}

// parseTokenExpiryKey extracts the token id from a tokens_by_expiry key.
func parseTokenExpiryKey(key []byte) (expiresAt time.Time, tokenID string) {
	if len(key) < 9 {
		return time.Time{}, ""
	}
	return decodeTimestamp(key[:8]), string(key[8:])
}

// makeSessionExpiryKey creates a key for the sessions_by_expiry index.
// Format: [8-byte timestamp][8-byte user id]
func makeSessionExpiryKey(until time.Time, userID int64) []byte {
	key := make([]byte, 16)
	copy(key[:8], encodeTimestamp(until))
	copy(key[8:], encodeInt64(userID))
	return key
}

// parseSessionExpiryKey extracts the user id from a sessions_by_expiry key.
func parseSessionExpiryKey(key []byte) (until time.Time, userID int64) {
	if len(key) < 16 {
		return time.Time{}, 0
	}
	return decodeTimestamp(key[:8]), decodeInt64(key[8:16])
}

// makeTermKey creates a key for the catalog_terms index.
// Format: [term][separator][16-byte record key]
func makeTermKey(term string, rk []byte) []byte {
	key := make([]byte, len(term)+1+len(rk))
	copy(key, term)
	key[len(term)] = 0 // null separator
	copy(key[len(term)+1:], rk)
	return key
}

// parseTermKey extracts the record key from a catalog_terms key.
func parseTermKey(key []byte) (term string, rk []byte) {
	for i, b := range key {
		if b == 0 {
			return string(key[:i]), key[i+1:]
		}
	}
	return string(key), nil
}
