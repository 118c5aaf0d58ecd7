package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"filegate"
	"filegate/store/botdb"
	"filegate/telemetry"
)

const defaultPageSize = 10

// Service is the query front door: cache lookup, then the configured
// strategy on a miss, with the result page and total written back to the
// cache. Totals are recomputed on every miss, never carried forward.
type Service struct {
	db       *botdb.DB
	cache    *Cache
	searcher Searcher
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPageSize sets the result page size. Defaults to 10.
func WithPageSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithServiceNow sets the time function for testing.
func WithServiceNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a search service over the store, with the strategy
// picked by NewSearcher.
func NewService(db *botdb.DB, cache *Cache, opts ...ServiceOption) *Service {
	s := &Service{
		db:       db,
		cache:    cache,
		searcher: NewSearcher(db),
		pageSize: defaultPageSize,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the service's result cache, for wiring invalidations.
func (s *Service) Cache() *Cache {
	return s.cache
}

// PageSize returns the configured page size.
func (s *Service) PageSize() int {
	return s.pageSize
}

// Result is one page of search results.
type Result struct {
	Records []filegate.CatalogRecord
	Total   int
	HasMore bool
}

// Search returns the requested zero-based page for the query within the
// channel scope (WildcardChannel for all channels). An empty query lists the
// scope. Pages past the end are empty, not errors.
func (s *Service) Search(ctx context.Context, query string, page int, channelID int64) (*Result, error) {
	if page < 0 {
		page = 0
	}

	if records, total, ok := s.cache.Lookup(ctx, query, page, channelID); ok {
		return &Result{
			Records: records,
			Total:   total,
			HasMore: s.hasMore(page, total),
		}, nil
	}

	start := s.now()
	matches, err := s.searcher.Search(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	telemetry.RecordSearch(ctx, s.searcher.Strategy(), s.now().Sub(start))

	total := len(matches)
	records := pageSlice(matches, page, s.pageSize)
	s.cache.Store(query, page, channelID, records, total)

	s.logger.Debug("search executed",
		"query", NormalizeQuery(query),
		"channel_id", channelID,
		"page", page,
		"total", total,
		"strategy", s.searcher.Strategy())

	return &Result{
		Records: records,
		Total:   total,
		HasMore: s.hasMore(page, total),
	}, nil
}

// Count returns the number of records in the channel scope, straight from
// the store.
func (s *Service) Count(ctx context.Context, channelID int64) (int, error) {
	return s.db.CountRecords(ctx, channelID)
}

func (s *Service) hasMore(page, total int) bool {
	return (page+1)*s.pageSize < total
}

func pageSlice(records []filegate.CatalogRecord, page, pageSize int) []filegate.CatalogRecord {
	start := page * pageSize
	if start >= len(records) {
		return nil
	}
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}
