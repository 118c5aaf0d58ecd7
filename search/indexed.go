package search

import (
	"context"

	"filegate"
	"filegate/store/botdb"
)

// IndexedSearcher resolves queries against the store's term index. Queries
// that tokenize to nothing degrade to a plain listing of the scope.
type IndexedSearcher struct {
	db *botdb.DB
}

func (s *IndexedSearcher) Strategy() string { return "indexed" }

func (s *IndexedSearcher) Search(ctx context.Context, query string, channelID int64) ([]filegate.CatalogRecord, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return listRecords(ctx, s.db, channelID)
	}
	return s.db.SearchTerms(ctx, terms, channelID)
}
