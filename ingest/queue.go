// Package ingest contains the single-worker ingestion pipeline that turns
// raw channel events into catalog records. All catalog writes go through the
// queue so inserts are serialized and the search cache is invalidated at the
// write step, never from the call sites.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"filegate"
	"filegate/store/botdb"
	"filegate/telemetry"
	"filegate/transport"
)

const defaultCapacity = 1000

// Invalidator receives cache invalidations from the worker after each
// successful catalog write. A channel id of zero means all channels.
type Invalidator interface {
	Invalidate(channelID int64)
}

// Item is one unit of ingestion work.
type Item struct {
	Event transport.RawEvent

	// DeferInvalidate suppresses the per-insert cache invalidation; bulk
	// backfills set it and invalidate once per batch instead.
	DeferInvalidate bool

	// Progress, when set, is called after the item is processed with the
	// stored record (nil on skip or failure) and the processing error.
	Progress func(rec *filegate.CatalogRecord, err error)
}

// Queue is a bounded FIFO ingestion queue consumed by a single worker.
// Enqueue blocks when the queue is full; Drain waits for every item enqueued
// so far to be fully processed.
type Queue struct {
	db     *botdb.DB
	inv    Invalidator
	logger *slog.Logger
	now    func() time.Time

	items chan Item

	mu         sync.Mutex
	unfinished int
	waiters    []chan struct{}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueCapacity sets the queue bound. Defaults to 1000.
func WithQueueCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.items = make(chan Item, n)
		}
	}
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithQueueNow sets the time function for testing.
func WithQueueNow(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// NewQueue creates an ingestion queue writing to db. inv may be nil, in which
// case no cache invalidation happens.
func NewQueue(db *botdb.DB, inv Invalidator, opts ...QueueOption) *Queue {
	q := &Queue{
		db:     db,
		inv:    inv,
		logger: slog.Default(),
		now:    time.Now,
		items:  make(chan Item, defaultCapacity),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits an item for processing. It blocks while the queue is full
// and fails only when ctx is canceled first.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	q.mu.Lock()
	q.unfinished++
	q.mu.Unlock()

	select {
	case q.items <- item:
		telemetry.SetQueueDepth(ctx, len(q.items))
		return nil
	case <-ctx.Done():
		q.taskDone()
		return ctx.Err()
	}
}

// Drain blocks until every item enqueued before the call has been fully
// processed, including items that fail. With an idle queue it returns
// immediately.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	q.waiters = append(q.waiters, done)
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of items waiting in the queue.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) taskDone() {
	q.mu.Lock()
	q.unfinished--
	if q.unfinished == 0 {
		for _, done := range q.waiters {
			close(done)
		}
		q.waiters = nil
	}
	q.mu.Unlock()
}

// Run consumes the queue until ctx is canceled. The item being processed
// when cancellation arrives is finished first so Drain callers are never
// stranded mid-item.
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info("ingestion worker started", "capacity", cap(q.items))
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("ingestion worker stopped")
			return
		case item := <-q.items:
			q.process(ctx, item)
			q.taskDone()
			telemetry.SetQueueDepth(ctx, len(q.items))
		}
	}
}

func (q *Queue) process(ctx context.Context, item Item) {
	start := q.now()

	rec, err := q.processOne(ctx, item)

	elapsed := q.now().Sub(start)
	switch {
	case err != nil:
		telemetry.RecordIngestItem(ctx, "failed", elapsed)
		q.logger.Error("ingesting item failed",
			"channel_id", item.Event.ChannelID,
			"message_id", item.Event.MessageID,
			"error", err)
	case rec == nil:
		telemetry.RecordIngestItem(ctx, "duplicate", elapsed)
	default:
		telemetry.RecordIngestItem(ctx, "inserted", elapsed)
	}

	if item.Progress != nil {
		q.callProgress(item.Progress, rec, err)
	}
}

// processOne extracts, stores, and invalidates for one item. A nil record
// with a nil error means the item was a duplicate and was skipped.
func (q *Queue) processOne(ctx context.Context, item Item) (rec *filegate.CatalogRecord, err error) {
	// A panicking extraction or store must not kill the worker; the
	// remaining queue items still have Drain callers waiting on them.
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("ingest panic: %v", r)
		}
	}()

	rec, err = ExtractMetadata(item.Event)
	if err != nil {
		return nil, err
	}

	if err := q.db.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, botdb.ErrDuplicate) {
			q.logger.Debug("skipping duplicate record",
				"channel_id", rec.ChannelID, "message_id", rec.MessageID)
			return nil, nil
		}
		return nil, fmt.Errorf("inserting record: %w", err)
	}

	// Invalidation is part of the write step: the cache can only ever be
	// stale by the items currently in the queue, not by completed writes.
	if q.inv != nil && !item.DeferInvalidate {
		q.inv.Invalidate(rec.ChannelID)
	}

	q.logger.Debug("record ingested",
		"channel_id", rec.ChannelID,
		"message_id", rec.MessageID,
		"file_name", rec.FileName)
	return rec, nil
}

func (q *Queue) callProgress(progress func(*filegate.CatalogRecord, error), rec *filegate.CatalogRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("progress callback panicked", "panic", r)
		}
	}()
	progress(rec, err)
}
