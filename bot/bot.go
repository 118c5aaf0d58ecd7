// Package bot wires the core components into the user-facing flows: the
// start/verification conversation, gated file delivery, channel ingestion,
// and the administrative operations.
package bot

import (
	"log/slog"
	"time"

	"filegate/auth"
	"filegate/ingest"
	"filegate/search"
	"filegate/store/botdb"
	"filegate/transport"
)

// Config carries the assembled components the bot flows operate on.
type Config struct {
	DB        *botdb.DB
	Authority *auth.Authority
	Gate      *auth.Gate
	Shortener *auth.Shortener
	Queue     *ingest.Queue
	Backfill  *ingest.Backfiller
	Search    *search.Service
	Transport transport.Transport

	// BotUsername is the handle deep links point at.
	BotUsername string

	// AccessLimit caps per-user file deliveries for the life of the
	// process. Zero or less means unlimited.
	AccessLimit int

	Logger *slog.Logger
	Now    func() time.Time
}

// Bot implements the conversation and admin flows.
type Bot struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a bot from assembled components.
func New(cfg Config) *Bot {
	b := &Bot{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}
