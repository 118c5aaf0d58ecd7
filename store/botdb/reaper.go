package botdb

import (
	"context"
	"log/slog"
	"time"

	"filegate/telemetry"
)

// Reaper runs periodic cleanup of expired access tokens and session
// authorizations. A failure deleting one record is logged and skipped; the
// loop itself survives indefinitely across transient store errors.
type Reaper struct {
	db        *DB
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperInterval sets the sweep interval.
func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.interval = d
	}
}

// WithReaperBatchSize sets the maximum entries to process per sweep per
// collection.
func WithReaperBatchSize(n int) ReaperOption {
	return func(r *Reaper) {
		r.batchSize = n
	}
}

// WithReaperLogger sets the logger for the reaper.
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = logger
	}
}

// NewReaper creates a new expiry reaper with the given options.
// Defaults: interval=5m, batchSize=100.
func NewReaper(db *DB, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		db:        db,
		interval:  5 * time.Minute,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("expiry reaper started", "interval", r.interval, "batchSize", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("expiry reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep processes one batch of expired tokens and sessions.
func (r *Reaper) sweep(ctx context.Context) {
	r.sweepTokens(ctx)
	r.sweepSessions(ctx)
}

func (r *Reaper) sweepTokens(ctx context.Context) {
	start := time.Now()
	var deleted int
	defer func() {
		telemetry.RecordReaperCycle(ctx, "tokens", deleted, time.Since(start))
	}()

	expired, err := r.db.ExpiredTokens(ctx, r.db.now(), r.batchSize)
	if err != nil {
		r.logger.Error("failed to list expired tokens", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, tokenID := range expired {
		if err := r.db.DeleteToken(ctx, tokenID); err != nil {
			r.logger.Warn("failed to delete expired token", "token_id", tokenID, "error", err)
			continue
		}
		deleted++
	}

	r.logger.Info("expired tokens reaped", "deleted", deleted, "total", len(expired))
}

func (r *Reaper) sweepSessions(ctx context.Context) {
	start := time.Now()
	var deleted int
	defer func() {
		telemetry.RecordReaperCycle(ctx, "sessions", deleted, time.Since(start))
	}()

	expired, err := r.db.ExpiredSessions(ctx, r.db.now(), r.batchSize)
	if err != nil {
		r.logger.Error("failed to list expired sessions", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, userID := range expired {
		if err := r.db.DeleteSession(ctx, userID); err != nil {
			r.logger.Warn("failed to delete expired session", "user_id", userID, "error", err)
			continue
		}
		deleted++
	}

	r.logger.Info("expired sessions reaped", "deleted", deleted, "total", len(expired))
}

// ReapNow runs a single sweep immediately.
// Useful for testing.
func (r *Reaper) ReapNow(ctx context.Context) {
	r.sweep(ctx)
}
