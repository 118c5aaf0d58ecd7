package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"filegate/telemetry"
)

// Shortener shortens token deep links via an external URL-shortener API.
// The shortener is best effort: on any failure the original long URL is
// returned so the authorization flow never fails on it.
type Shortener struct {
	apiURL string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// ShortenerOption configures a Shortener.
type ShortenerOption func(*Shortener)

// WithShortenerLogger sets the logger.
func WithShortenerLogger(logger *slog.Logger) ShortenerOption {
	return func(s *Shortener) {
		s.logger = logger
	}
}

// WithShortenerClient sets the HTTP client, for testing.
func WithShortenerClient(client *http.Client) ShortenerOption {
	return func(s *Shortener) {
		s.client = client
	}
}

// NewShortener creates a shortener client. An empty apiURL disables
// shortening entirely; Shorten then always returns the input.
func NewShortener(apiURL, apiKey string, opts ...ShortenerOption) *Shortener {
	s := &Shortener{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: telemetry.NewInstrumentedTransport(nil, "shortener"),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// shortenResponse is the shortener API's reply envelope.
type shortenResponse struct {
	ShortenedURL string `json:"shortenedUrl"`
}

// Shorten returns a shortened form of longURL, or longURL itself when the
// shortener is disabled or fails in any way.
func (s *Shortener) Shorten(ctx context.Context, longURL string) string {
	if s.apiURL == "" {
		return longURL
	}

	endpoint := fmt.Sprintf("%s?api=%s&url=%s", s.apiURL, url.QueryEscape(s.apiKey), url.QueryEscape(longURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		s.logger.Warn("building shortener request failed", "error", err)
		return longURL
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("shortener request failed", "error", err)
		return longURL
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("shortener returned non-OK status", "status", resp.StatusCode)
		return longURL
	}

	var out shortenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.logger.Warn("decoding shortener response failed", "error", err)
		return longURL
	}
	if out.ShortenedURL == "" {
		s.logger.Warn("shortener returned empty URL")
		return longURL
	}

	return out.ShortenedURL
}
