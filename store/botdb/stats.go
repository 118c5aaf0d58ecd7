package botdb

import (
	"context"

	"filegate"

	"go.etcd.io/bbolt"
)

// Stats holds aggregate counts over the store's collections.
type Stats struct {
	TotalFiles    int   `json:"total_files"`
	TotalBytes    int64 `json:"total_bytes"`
	TotalTokens   int   `json:"total_tokens"`
	TotalSessions int   `json:"total_sessions"`
	TotalChannels int   `json:"total_channels"`
}

// Stats computes aggregate statistics across all collections. File bytes are
// summed from the catalog records.
func (d *DB) Stats(_ context.Context) (*Stats, error) {
	stats := &Stats{}
	err := d.db.View(func(tx *bbolt.Tx) error {
		stats.TotalTokens = tx.Bucket(bucketTokens).Stats().KeyN
		stats.TotalSessions = tx.Bucket(bucketSessions).Stats().KeyN
		stats.TotalChannels = tx.Bucket(bucketChannels).Stats().KeyN

		return tx.Bucket(bucketCatalog).ForEach(func(_, v []byte) error {
			var rec filegate.CatalogRecord
			if err := d.decode(v, &rec); err != nil {
				return nil // skip invalid entries
			}
			stats.TotalFiles++
			stats.TotalBytes += rec.FileSize
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
