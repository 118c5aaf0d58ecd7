// Package filegate contains the core domain types for the gated
// content-distribution bot: access tokens, session authorizations, and the
// file catalog built from ingested channel uploads.
package filegate

import "time"

// TokenValidity is how long an access token, and the session authorization it
// is redeemed for, remains valid.
const TokenValidity = 24 * time.Hour

// AccessToken is a short-lived credential a user exchanges for a session
// authorization. Tokens are never revoked explicitly; they only age out.
type AccessToken struct {
	TokenID  string    `json:"token_id"`
	UserID   int64     `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
	Expiry   time.Time `json:"expiry"`
}

// Expired reports whether the token is no longer valid at the given instant.
func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.Expiry)
}

// SessionAuthorization is a time-windowed grant allowing a user to request
// files. Re-authorization overwrites the window, it never extends additively.
type SessionAuthorization struct {
	UserID          int64     `json:"user_id"`
	AuthorizedUntil time.Time `json:"authorized_until"`
}

// Active reports whether the authorization window covers the given instant.
func (s *SessionAuthorization) Active(now time.Time) bool {
	return now.Before(s.AuthorizedUntil)
}

// CatalogRecord describes one file ingested from a source channel. The
// (ChannelID, MessageID) pair is the dedup key: a second ingestion of the same
// pair must not create a second record. Records are never mutated in place.
type CatalogRecord struct {
	ChannelID   int64       `json:"channel_id"`
	MessageID   int64       `json:"message_id"`
	FileName    string      `json:"file_name"`
	FileSize    int64       `json:"file_size"`
	FileFormat  string      `json:"file_format"`
	Date        time.Time   `json:"date"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// AllowedChannel is a source channel the bot is permitted to ingest from.
type AllowedChannel struct {
	ChannelID   int64  `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}
