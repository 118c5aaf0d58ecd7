// Package botdb provides the document store for the bot, backed by bbolt.
// It holds four logical collections: access tokens, session authorizations,
// the file catalog, and the allowed-channel set.
package botdb

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("botdb: not found")

// ErrDuplicate is returned when inserting a catalog record whose
// (channel_id, message_id) dedup key already exists.
var ErrDuplicate = errors.New("botdb: duplicate record")

// DB is the bbolt-backed store for all bot collections.
type DB struct {
	db        *bbolt.DB
	codec     *PayloadCodec
	logger    *slog.Logger
	now       func() time.Time
	termIndex bool
	noSync    bool
}

// Option configures a DB instance.
type Option func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithTermIndex enables the filename term index maintained alongside catalog
// writes. When enabled, searches can be served from the index instead of a
// full catalog scan.
func WithTermIndex(enabled bool) Option {
	return func(d *DB) {
		d.termIndex = enabled
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// New creates a new DB instance with options.
func New(opts ...Option) *DB {
	d := &DB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open opens the database at the given path.
func (d *DB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  d.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	d.db = db

	if err := d.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	codec, err := NewPayloadCodec()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating payload codec: %w", err)
	}
	d.codec = codec

	d.logger.Debug("opened botdb", "path", path, "termIndex", d.termIndex, "noSync", d.noSync)
	return nil
}

func (d *DB) createBuckets() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			bucketTokens,
			bucketTokensByUser,
			bucketTokensByExpiry,
			bucketTokenExpiryByID,
			bucketSessions,
			bucketSessionsByExpiry,
			bucketCatalog,
			bucketChannels,
		}
		if d.termIndex {
			buckets = append(buckets, bucketCatalogTerms)
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (d *DB) Close() error {
	if d.codec != nil {
		d.codec.Close()
		d.codec = nil
	}
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing botdb")
	return d.db.Close()
}

// HasTermIndex reports whether the filename term index is maintained. The
// search layer probes this to pick between indexed and scan strategies.
func (d *DB) HasTermIndex() bool {
	return d.termIndex
}

// encode marshals and optionally compresses a value for storage.
func (d *DB) encode(v any) ([]byte, error) {
	return d.codec.Encode(v)
}

// decode decompresses and unmarshals a stored value.
func (d *DB) decode(data []byte, v any) error {
	return d.codec.Decode(data, v)
}
