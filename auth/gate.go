package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"filegate/store/botdb"
)

// Gate tracks per-user session state and enforces the per-user file-access
// limit. The allowed-channel set and the access counters are process-local:
// they start empty on every boot and are never persisted. In particular the
// access counter is a cap for the lifetime of the process, not a rolling
// window; only a restart resets it.
type Gate struct {
	db     *botdb.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	channels map[int64]string // nil until populated from the store
	counters map[int64]int
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithGateNow sets the time function for testing.
func WithGateNow(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate creates a session gate backed by the given store.
func NewGate(db *botdb.DB, opts ...GateOption) *Gate {
	g := &Gate{
		db:       db,
		logger:   slog.Default(),
		now:      time.Now,
		counters: make(map[int64]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsAuthorized reports whether the user's session authorization window
// covers the current instant. A missing session means not authorized.
func (g *Gate) IsAuthorized(ctx context.Context, userID int64) bool {
	session, err := g.db.GetSession(ctx, userID)
	if err != nil {
		if !errors.Is(err, botdb.ErrNotFound) {
			g.logger.Warn("session lookup failed", "user_id", userID, "error", err)
		}
		return false
	}
	return session.Active(g.now())
}

// AllowedChannels returns the set of allowed source channels as a map of
// channel id to channel name. The set is cached in memory and reloaded from
// the store only after InvalidateChannels.
func (g *Gate) AllowedChannels(ctx context.Context) (map[int64]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.channels == nil {
		channels, err := g.db.ListChannels(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing allowed channels: %w", err)
		}
		g.channels = make(map[int64]string, len(channels))
		for _, ch := range channels {
			g.channels[ch.ChannelID] = ch.ChannelName
		}
	}

	out := make(map[int64]string, len(g.channels))
	for id, name := range g.channels {
		out[id] = name
	}
	return out, nil
}

// IsAllowedChannel reports whether the channel is in the allowed set.
func (g *Gate) IsAllowedChannel(ctx context.Context, channelID int64) (bool, error) {
	channels, err := g.AllowedChannels(ctx)
	if err != nil {
		return false, err
	}
	_, ok := channels[channelID]
	return ok, nil
}

// InvalidateChannels drops the in-memory allowed-channel cache. Must be
// called after any add or remove of an allowed channel.
func (g *Gate) InvalidateChannels() {
	g.mu.Lock()
	g.channels = nil
	g.mu.Unlock()
}

// CheckAndIncrementAccess enforces the per-user access limit. Once the
// counter has reached limit the call returns false without mutation;
// otherwise it increments and returns true. A limit of zero or less means
// unlimited access.
func (g *Gate) CheckAndIncrementAccess(userID int64, limit int) bool {
	if limit <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.counters[userID] >= limit {
		return false
	}
	g.counters[userID]++
	return true
}

// AccessCount returns the user's current access count.
func (g *Gate) AccessCount(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counters[userID]
}

// ResetAccessCount clears the user's access count. Nothing calls this
// automatically; it exists for the administrative surface.
func (g *Gate) ResetAccessCount(userID int64) {
	g.mu.Lock()
	delete(g.counters, userID)
	g.mu.Unlock()
}
