package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"filegate"
	"filegate/store/botdb"
)

// ScanSearcher matches file names by regular expression over a full scan of
// the scope. Query tokens match case-insensitively, in order, with anything
// between them, so "deb iso" finds "debian-12.11.0-amd64.iso".
type ScanSearcher struct {
	db *botdb.DB
}

func (s *ScanSearcher) Strategy() string { return "scan" }

func (s *ScanSearcher) Search(ctx context.Context, query string, channelID int64) ([]filegate.CatalogRecord, error) {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return listRecords(ctx, s.db, channelID)
	}

	pattern, err := compileQuery(tokens)
	if err != nil {
		return nil, err
	}

	var matches []filegate.CatalogRecord
	collect := func(rec *filegate.CatalogRecord) (bool, error) {
		if pattern.MatchString(rec.FileName) {
			matches = append(matches, *rec)
		}
		return true, nil
	}

	if channelID != WildcardChannel {
		if err := s.db.RecordsByChannel(ctx, channelID, collect); err != nil {
			return nil, err
		}
		return matches, nil
	}

	if err := s.db.EachRecord(ctx, collect); err != nil {
		return nil, err
	}
	sortRecent(matches)
	return matches, nil
}

// compileQuery turns query tokens into a case-insensitive ordered-subsequence
// pattern. Tokens are quoted, so queries can never inject regex syntax.
func compileQuery(tokens []string) (*regexp.Regexp, error) {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = regexp.QuoteMeta(t)
	}
	pattern, err := regexp.Compile("(?i)" + strings.Join(quoted, ".*"))
	if err != nil {
		return nil, fmt.Errorf("compiling query pattern: %w", err)
	}
	return pattern, nil
}
