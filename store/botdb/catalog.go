package botdb

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"filegate"

	"go.etcd.io/bbolt"
)

// InsertRecord stores a catalog record. Returns ErrDuplicate if a record with
// the same (channel_id, message_id) dedup key already exists; the existing
// record is left untouched.
func (d *DB) InsertRecord(_ context.Context, rec *filegate.CatalogRecord) error {
	data, err := d.encode(rec)
	if err != nil {
		return err
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		catalog := tx.Bucket(bucketCatalog)
		key := recordKey(rec.ChannelID, rec.MessageID)

		if catalog.Get(key) != nil {
			return ErrDuplicate
		}
		if err := catalog.Put(key, data); err != nil {
			return fmt.Errorf("putting record: %w", err)
		}
		if d.termIndex {
			if err := d.indexTerms(tx, key, rec.FileName); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRecord retrieves a catalog record by its dedup key.
func (d *DB) GetRecord(_ context.Context, channelID, messageID int64) (*filegate.CatalogRecord, error) {
	var rec filegate.CatalogRecord
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketCatalog).Get(recordKey(channelID, messageID))
		if val == nil {
			return ErrNotFound
		}
		return d.decode(val, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord removes a catalog record and its term index entries.
// Deleting a missing record is a no-op.
func (d *DB) DeleteRecord(_ context.Context, channelID, messageID int64) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		catalog := tx.Bucket(bucketCatalog)
		key := recordKey(channelID, messageID)

		val := catalog.Get(key)
		if val == nil {
			return nil
		}

		if d.termIndex {
			var rec filegate.CatalogRecord
			if err := d.decode(val, &rec); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
			if err := d.deindexTerms(tx, key, rec.FileName); err != nil {
				return err
			}
		}
		return catalog.Delete(key)
	})
}

// CountRecords returns the number of catalog records in the given channel, or
// in the whole catalog when channelID is zero. Totals are always recomputed
// from the store, never taken from a cache.
func (d *DB) CountRecords(_ context.Context, channelID int64) (int, error) {
	var count int
	err := d.db.View(func(tx *bbolt.Tx) error {
		catalog := tx.Bucket(bucketCatalog)
		if channelID == 0 {
			count = catalog.Stats().KeyN
			return nil
		}

		prefix := encodeInt64(channelID)
		cursor := catalog.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// RecordsByChannel iterates the channel's records most recent first (by
// descending message id). The callback returns false to stop iteration.
func (d *DB) RecordsByChannel(_ context.Context, channelID int64, fn func(*filegate.CatalogRecord) (bool, error)) error {
	prefix := encodeInt64(channelID)

	return d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketCatalog).Cursor()

		k, v := seekLast(cursor, prefix)
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Prev() {
			var rec filegate.CatalogRecord
			if err := d.decode(v, &rec); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
			cont, err := fn(&rec)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// EachRecord iterates every catalog record in key order.
// The callback returns false to stop iteration.
func (d *DB) EachRecord(_ context.Context, fn func(*filegate.CatalogRecord) (bool, error)) error {
	return d.db.View(func(tx *bbolt.Tx) error {
		return iterBreak(tx.Bucket(bucketCatalog), func(_, v []byte) (bool, error) {
			var rec filegate.CatalogRecord
			if err := d.decode(v, &rec); err != nil {
				return false, fmt.Errorf("decoding record: %w", err)
			}
			return fn(&rec)
		})
	})
}

// seekLast positions the cursor on the last key with the given prefix.
func seekLast(cursor *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	next := prefixSuccessor(prefix)
	if next == nil {
		return cursor.Last()
	}
	if k, _ := cursor.Seek(next); k == nil {
		return cursor.Last()
	}
	return cursor.Prev()
}

// prefixSuccessor returns the smallest key greater than every key with the
// given prefix, or nil if no such key exists (all-0xff prefix).
func prefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			next := make([]byte, i+1)
			copy(next, prefix[:i+1])
			next[i]++
			return next
		}
	}
	return nil
}

// iterBreak is bucket.ForEach with early termination.
func iterBreak(bucket *bbolt.Bucket, fn func(k, v []byte) (bool, error)) error {
	cursor := bucket.Cursor()
	for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// nameTerms splits a file name into lowercased index terms.
func nameTerms(fileName string) []string {
	fields := strings.FieldsFunc(strings.ToLower(fileName), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	seen := make(map[string]struct{}, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func (d *DB) indexTerms(tx *bbolt.Tx, rk []byte, fileName string) error {
	terms := tx.Bucket(bucketCatalogTerms)
	if terms == nil {
		return nil
	}
	for _, term := range nameTerms(fileName) {
		if err := terms.Put(makeTermKey(term, rk), nil); err != nil {
			return fmt.Errorf("indexing term %q: %w", term, err)
		}
	}
	return nil
}

func (d *DB) deindexTerms(tx *bbolt.Tx, rk []byte, fileName string) error {
	terms := tx.Bucket(bucketCatalogTerms)
	if terms == nil {
		return nil
	}
	for _, term := range nameTerms(fileName) {
		if err := terms.Delete(makeTermKey(term, rk)); err != nil {
			return fmt.Errorf("deindexing term %q: %w", term, err)
		}
	}
	return nil
}

// SearchTerms returns catalog records whose file names match the query terms,
// ranked by number of matching terms (descending) and then by recency
// (descending message id). channelID zero searches every channel.
func (d *DB) SearchTerms(_ context.Context, queryTerms []string, channelID int64) ([]filegate.CatalogRecord, error) {
	if !d.termIndex {
		return nil, fmt.Errorf("term index not enabled")
	}

	type match struct {
		key   string
		count int
	}
	matches := make(map[string]int)

	err := d.db.View(func(tx *bbolt.Tx) error {
		terms := tx.Bucket(bucketCatalogTerms)
		if terms == nil {
			return nil
		}

		var chanPrefix []byte
		if channelID != 0 {
			chanPrefix = encodeInt64(channelID)
		}

		for _, term := range queryTerms {
			term = strings.ToLower(term)
			prefix := []byte(term)
			cursor := terms.Cursor()
			for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
				indexed, rk := parseTermKey(k)
				// Prefix match on the term: "matrix" matches query "mat".
				if !strings.HasPrefix(indexed, term) {
					continue
				}
				if chanPrefix != nil && !bytes.HasPrefix(rk, chanPrefix) {
					continue
				}
				matches[string(rk)]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ranked := make([]match, 0, len(matches))
	for key, count := range matches {
		ranked = append(ranked, match{key: key, count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		_, mi := parseRecordKey([]byte(ranked[i].key))
		_, mj := parseRecordKey([]byte(ranked[j].key))
		return mi > mj
	})

	records := make([]filegate.CatalogRecord, 0, len(ranked))
	err = d.db.View(func(tx *bbolt.Tx) error {
		catalog := tx.Bucket(bucketCatalog)
		for _, m := range ranked {
			val := catalog.Get([]byte(m.key))
			if val == nil {
				continue // removed between passes
			}
			var rec filegate.CatalogRecord
			if err := d.decode(val, &rec); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
