package search

import (
	"context"
	"sort"
	"strings"

	"filegate"
	"filegate/store/botdb"
)

// Searcher answers a normalized query against one channel or the wildcard
// scope, most recent match first.
type Searcher interface {
	Search(ctx context.Context, query string, channelID int64) ([]filegate.CatalogRecord, error)

	// Strategy names the implementation for telemetry.
	Strategy() string
}

// NewSearcher picks a strategy for the store: the term-index searcher when
// the store was opened with one, the full-scan searcher otherwise.
func NewSearcher(db *botdb.DB) Searcher {
	if db.HasTermIndex() {
		return &IndexedSearcher{db: db}
	}
	return &ScanSearcher{db: db}
}

// queryTerms splits a query into lowercased alphanumeric terms, matching how
// file names are tokenized for the term index.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// listRecords returns the scope's records with no query filter, most recent
// first. Channel scopes come back ordered from the store; the wildcard scope
// is collected and sorted here.
func listRecords(ctx context.Context, db *botdb.DB, channelID int64) ([]filegate.CatalogRecord, error) {
	var records []filegate.CatalogRecord

	collect := func(rec *filegate.CatalogRecord) (bool, error) {
		records = append(records, *rec)
		return true, nil
	}

	if channelID != WildcardChannel {
		if err := db.RecordsByChannel(ctx, channelID, collect); err != nil {
			return nil, err
		}
		return records, nil
	}

	if err := db.EachRecord(ctx, collect); err != nil {
		return nil, err
	}
	sortRecent(records)
	return records, nil
}

// sortRecent orders records most recent first by message id, with channel id
// as a tiebreaker for stable cross-channel ordering.
func sortRecent(records []filegate.CatalogRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].MessageID != records[j].MessageID {
			return records[i].MessageID > records[j].MessageID
		}
		return records[i].ChannelID > records[j].ChannelID
	})
}
