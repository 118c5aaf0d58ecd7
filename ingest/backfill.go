package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"filegate/transport"
)

const defaultBatchSize = 50

// Backfiller bulk-imports a channel's history by message-id range. Messages
// are fetched and enqueued in fixed-size batches; after each batch the queue
// is drained and the channel's cache entries are invalidated once, so a
// running backfill issues one invalidation per batch instead of per file.
type Backfiller struct {
	queue     *Queue
	tr        transport.Transport
	inv       Invalidator
	logger    *slog.Logger
	batchSize int
}

// BackfillerOption configures a Backfiller.
type BackfillerOption func(*Backfiller)

// WithBackfillBatchSize sets the batch size. Defaults to 50.
func WithBackfillBatchSize(n int) BackfillerOption {
	return func(b *Backfiller) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithBackfillLogger sets the logger.
func WithBackfillLogger(logger *slog.Logger) BackfillerOption {
	return func(b *Backfiller) {
		b.logger = logger
	}
}

// NewBackfiller creates a backfiller feeding the given queue.
func NewBackfiller(queue *Queue, tr transport.Transport, inv Invalidator, opts ...BackfillerOption) *Backfiller {
	b := &Backfiller{
		queue:     queue,
		tr:        tr,
		inv:       inv,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Result summarizes a backfill run.
type Result struct {
	Fetched       int
	Skipped       int
	FailedBatches int
}

// Run backfills messages firstID through lastID inclusive from the channel.
// A fetch failure skips the remainder of its batch and moves on to the next;
// only queue submission failures (context cancellation) abort the run.
func (b *Backfiller) Run(ctx context.Context, channelID, firstID, lastID int64) (Result, error) {
	if firstID > lastID {
		firstID, lastID = lastID, firstID
	}

	var res Result
	for batchStart := firstID; batchStart <= lastID; batchStart += int64(b.batchSize) {
		batchEnd := batchStart + int64(b.batchSize) - 1
		if batchEnd > lastID {
			batchEnd = lastID
		}

		enqueued, err := b.runBatch(ctx, channelID, batchStart, batchEnd, &res)
		if err != nil {
			return res, err
		}

		if enqueued > 0 {
			if err := b.queue.Drain(ctx); err != nil {
				return res, fmt.Errorf("draining batch %d-%d: %w", batchStart, batchEnd, err)
			}
			if b.inv != nil {
				b.inv.Invalidate(channelID)
			}
		}

		b.logger.Info("backfill batch complete",
			"channel_id", channelID,
			"first_id", batchStart,
			"last_id", batchEnd,
			"enqueued", enqueued)
	}

	b.logger.Info("backfill complete",
		"channel_id", channelID,
		"fetched", res.Fetched,
		"skipped", res.Skipped,
		"failed_batches", res.FailedBatches)
	return res, nil
}

func (b *Backfiller) runBatch(ctx context.Context, channelID, firstID, lastID int64, res *Result) (int, error) {
	enqueued := 0
	for id := firstID; id <= lastID; id++ {
		ev, err := b.tr.FetchByID(ctx, channelID, id)
		if err != nil {
			if errors.Is(err, transport.ErrNotFound) {
				res.Skipped++
				continue
			}
			// Transport trouble likely affects the whole batch; skip
			// the rest of it and try again from the next batch.
			res.FailedBatches++
			b.logger.Warn("batch fetch failed, skipping remainder",
				"channel_id", channelID,
				"message_id", id,
				"batch_end", lastID,
				"error", err)
			return enqueued, nil
		}

		item := Item{Event: *ev, DeferInvalidate: true}
		if err := b.queue.Enqueue(ctx, item); err != nil {
			return enqueued, fmt.Errorf("enqueueing message %d: %w", id, err)
		}
		res.Fetched++
		enqueued++
	}
	return enqueued, nil
}
