// Command filegate runs the gated file-sharing bot core: the catalog store,
// ingestion worker, expiry reaper, and the HTTP facade.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"filegate/auth"
	"filegate/bot"
	"filegate/ingest"
	"filegate/search"
	"filegate/server"
	"filegate/store/botdb"
	"filegate/telemetry"
)

var cli struct {
	Address   string `help:"Address to listen on." default:":8080"`
	DBPath    string `help:"Path to the bolt database file." default:"./filegate.db" name:"db-path"`
	AuthToken string `help:"Bearer token required on /api/ paths." env:"FILEGATE_AUTH_TOKEN"`

	BotUsername string `help:"Bot handle used in deep links." default:"filegate_bot"`
	AccessLimit int    `help:"Per-user file access cap, 0 for unlimited." default:"0"`

	TermIndex     bool          `help:"Maintain a file-name term index for search." default:"true" negatable:""`
	CacheTTL      time.Duration `help:"Search cache entry lifetime." default:"5m"`
	PageSize      int           `help:"Search result page size." default:"10"`
	QueueCapacity int           `help:"Ingestion queue bound." default:"1000"`

	ReapInterval time.Duration `help:"How often to sweep expired tokens and sessions." default:"5m"`

	ShortenerURL string `help:"URL-shortener API endpoint, empty to disable."`
	ShortenerKey string `help:"URL-shortener API key." env:"FILEGATE_SHORTENER_KEY"`

	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export."`
	Prometheus   bool   `help:"Serve Prometheus metrics on /metrics." default:"true" negatable:""`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json"`
}

var version = "dev"

func main() {
	kong.Parse(&cli,
		kong.Name("filegate"),
		kong.Description("Gated file-sharing bot core."),
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "filegate",
		ServiceVersion:   version,
		OTLPEndpoint:     cli.OTLPEndpoint,
		EnablePrometheus: cli.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	db := botdb.New(
		botdb.WithLogger(logger.With("component", "store")),
		botdb.WithTermIndex(cli.TermIndex),
	)
	if err := db.Open(cli.DBPath); err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database failed", "error", err)
		}
	}()

	authority := auth.NewAuthority(db, auth.WithAuthorityLogger(logger.With("component", "auth")))
	gate := auth.NewGate(db, auth.WithGateLogger(logger.With("component", "gate")))
	shortener := auth.NewShortener(cli.ShortenerURL, cli.ShortenerKey,
		auth.WithShortenerLogger(logger.With("component", "shortener")))

	cache := search.NewCache(
		search.WithCacheTTL(cli.CacheTTL),
		search.WithCacheLogger(logger.With("component", "cache")),
	)
	searchSvc := search.NewService(db, cache,
		search.WithPageSize(cli.PageSize),
		search.WithServiceLogger(logger.With("component", "search")),
	)

	queue := ingest.NewQueue(db, cache,
		ingest.WithQueueCapacity(cli.QueueCapacity),
		ingest.WithQueueLogger(logger.With("component", "ingest")),
	)

	tr := newLoggingTransport(logger.With("component", "transport"))
	backfiller := ingest.NewBackfiller(queue, tr, cache,
		ingest.WithBackfillLogger(logger.With("component", "backfill")))

	b := bot.New(bot.Config{
		DB:          db,
		Authority:   authority,
		Gate:        gate,
		Shortener:   shortener,
		Queue:       queue,
		Backfill:    backfiller,
		Search:      searchSvc,
		Transport:   tr,
		BotUsername: cli.BotUsername,
		AccessLimit: cli.AccessLimit,
		Logger:      logger.With("component", "bot"),
	})

	reaper := botdb.NewReaper(db,
		botdb.WithReaperInterval(cli.ReapInterval),
		botdb.WithReaperLogger(logger.With("component", "reaper")),
	)
	go reaper.Run(ctx)
	go queue.Run(ctx)

	srv := server.New(server.Config{
		Address:   cli.Address,
		AuthToken: cli.AuthToken,
		Logger:    logger.With("component", "server"),
	}, db, searchSvc, b)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("filegate started",
		"address", srv.Address(),
		"db_path", cli.DBPath,
		"term_index", cli.TermIndex,
		"access_limit", cli.AccessLimit,
	)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)

		// Drain queued items while the worker is still running, then stop
		// the worker and the reaper.
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer drainCancel()
		if err := queue.Drain(drainCtx); err != nil {
			logger.Warn("queue drain timed out during shutdown", "error", err)
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger() (*slog.Logger, error) {
	var level slog.Level
	switch cli.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cli.LogLevel)
	}

	var handler slog.Handler
	switch cli.LogFormat {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", cli.LogFormat)
	}
	return slog.New(handler), nil
}
