// Package auth implements token-based access control for the bot: issuing
// and validating time-bounded access tokens, and the per-user session gate
// consulted by every gated operation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"filegate"
	"filegate/store/botdb"

	"github.com/google/uuid"
)

// Authority issues, validates, and redeems access tokens. Tokens are valid
// for filegate.TokenValidity from issue and are reused while unexpired, so a
// user holds at most one live token at a time.
type Authority struct {
	db     *botdb.DB
	logger *slog.Logger
	now    func() time.Time
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithAuthorityLogger sets the logger.
func WithAuthorityLogger(logger *slog.Logger) AuthorityOption {
	return func(a *Authority) {
		a.logger = logger
	}
}

// WithAuthorityNow sets the time function for testing.
func WithAuthorityNow(now func() time.Time) AuthorityOption {
	return func(a *Authority) {
		a.now = now
	}
}

// NewAuthority creates a token authority backed by the given store.
func NewAuthority(db *botdb.DB, opts ...AuthorityOption) *Authority {
	a := &Authority{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue returns a token id for the user, reusing an existing unexpired token
// when one exists. Only store unavailability makes Issue fail.
func (a *Authority) Issue(ctx context.Context, userID int64) (string, error) {
	now := a.now()

	existing, err := a.db.FindUserToken(ctx, userID, now)
	if err == nil {
		return existing.TokenID, nil
	}
	if !errors.Is(err, botdb.ErrNotFound) {
		return "", fmt.Errorf("looking up token for user %d: %w", userID, err)
	}

	token := &filegate.AccessToken{
		TokenID:  uuid.NewString(),
		UserID:   userID,
		IssuedAt: now,
		Expiry:   now.Add(filegate.TokenValidity),
	}
	if err := a.db.PutToken(ctx, token); err != nil {
		return "", fmt.Errorf("storing token for user %d: %w", userID, err)
	}

	a.logger.Debug("issued token", "user_id", userID, "token_id", token.TokenID, "expiry", token.Expiry)
	return token.TokenID, nil
}

// Validate reports whether the token id belongs to the user and is still
// within its validity window. Unknown or expired tokens, and store read
// failures, all validate to false; nothing is raised to the caller.
func (a *Authority) Validate(ctx context.Context, tokenID string, userID int64) bool {
	token, err := a.db.GetToken(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, botdb.ErrNotFound) {
			a.logger.Warn("token lookup failed", "token_id", tokenID, "error", err)
		}
		return false
	}
	if token.UserID != userID {
		return false
	}
	return !token.Expired(a.now())
}

// Redeem grants the user a session authorization window of
// filegate.TokenValidity from now. Redeeming again overwrites the window, it
// never extends additively. Callers are expected to Validate first.
func (a *Authority) Redeem(ctx context.Context, userID int64) error {
	session := &filegate.SessionAuthorization{
		UserID:          userID,
		AuthorizedUntil: a.now().Add(filegate.TokenValidity),
	}
	if err := a.db.PutSession(ctx, session); err != nil {
		return fmt.Errorf("storing session for user %d: %w", userID, err)
	}

	a.logger.Info("user authorized", "user_id", userID, "authorized_until", session.AuthorizedUntil)
	return nil
}
