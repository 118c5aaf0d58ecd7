// Package server provides the read-only HTTP facade over the file catalog:
// channel listings and paged search, plus health, stats, and metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"filegate/bot"
	"filegate/search"
	"filegate/store/botdb"
	"filegate/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken, when set, requires Bearer authentication on /api/ paths.
	AuthToken string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP facade over the catalog.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	db     *botdb.DB
	search *search.Service
	bot    *bot.Bot
}

// New creates a server over the store and search service. The bot is
// optional; without it the administrative routes are not registered.
func New(cfg Config, db *botdb.DB, searchSvc *search.Service, b *bot.Bot) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		db:     db,
		search: searchSvc,
		bot:    b,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	if s.bot != nil {
		s.registerAdminRoutes(mux)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(s.authMiddleware(gzhttp.GzipHandler(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("GET /api/channels/{channel}/files", s.handleChannelFiles)
	mux.HandleFunc("GET /api/files", s.handleAllFiles)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats(r.Context())
	if err != nil {
		s.serverError(w, r, "loading stats", err)
		return
	}
	s.writeJSON(w, stats)
}

type channelResponse struct {
	ChannelID   int64  `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	TotalFiles  int    `json:"total_files"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.db.ListChannels(r.Context())
	if err != nil {
		s.serverError(w, r, "listing channels", err)
		return
	}

	out := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		count, err := s.db.CountRecords(r.Context(), ch.ChannelID)
		if err != nil {
			s.serverError(w, r, "counting channel records", err)
			return
		}
		out = append(out, channelResponse{
			ChannelID:   ch.ChannelID,
			ChannelName: ch.ChannelName,
			TotalFiles:  count,
		})
	}
	s.writeJSON(w, out)
}

type fileResponse struct {
	ChannelID   int64     `json:"channel_id"`
	MessageID   int64     `json:"message_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	FileFormat  string    `json:"file_format,omitempty"`
	Date        time.Time `json:"date"`
	Fingerprint string    `json:"fingerprint"`
}

type filesResponse struct {
	Files   []fileResponse `json:"files"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	HasMore bool           `json:"has_more"`
}

func (s *Server) handleChannelFiles(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(r.PathValue("channel"), 10, 64)
	if err != nil || channelID == search.WildcardChannel {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}
	s.serveSearch(w, r, channelID)
}

func (s *Server) handleAllFiles(w http.ResponseWriter, r *http.Request) {
	s.serveSearch(w, r, search.WildcardChannel)
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request, channelID int64) {
	query := r.URL.Query().Get("q")
	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = parsed
	}

	result, err := s.search.Search(r.Context(), query, page, channelID)
	if err != nil {
		s.serverError(w, r, "searching catalog", err)
		return
	}

	files := make([]fileResponse, 0, len(result.Records))
	for _, rec := range result.Records {
		files = append(files, fileResponse{
			ChannelID:   rec.ChannelID,
			MessageID:   rec.MessageID,
			FileName:    rec.FileName,
			FileSize:    rec.FileSize,
			FileFormat:  rec.FileFormat,
			Date:        rec.Date,
			Fingerprint: rec.Fingerprint.ShortString(),
		})
	}

	s.writeJSON(w, filesResponse{
		Files:   files,
		Total:   result.Total,
		Page:    page,
		HasMore: result.HasMore,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg, "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		telemetry.RecordHTTP(r.Context(), r.URL.Path, wrapped.status, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
