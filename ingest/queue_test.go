package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filegate"
	"filegate/store/botdb"
	"filegate/transport"
)

func newTestStore(t *testing.T) *botdb.DB {
	t.Helper()

	db := botdb.New(botdb.WithNoSync(true))
	require.NoError(t, db.Open(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// startWorker runs the queue's worker until the test ends.
func startWorker(t *testing.T, q *Queue) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []int64
}

func (r *recordingInvalidator) Invalidate(channelID int64) {
	r.mu.Lock()
	r.calls = append(r.calls, channelID)
	r.mu.Unlock()
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func fileEvent(channelID, messageID int64, name string) transport.RawEvent {
	return transport.RawEvent{
		ChannelID: channelID,
		MessageID: messageID,
		FileName:  name,
		FileSize:  2048,
		Date:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("drain waits for all enqueued items", func(t *testing.T) {
		db := newTestStore(t)
		q := NewQueue(db, nil)
		startWorker(t, q)

		for i := int64(1); i <= 20; i++ {
			name := fmt.Sprintf("file-%d.zip", i)
			require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, i, name)}))
		}
		require.NoError(t, q.Drain(ctx))

		count, err := db.CountRecords(ctx, -100123)
		require.NoError(t, err)
		assert.Equal(t, 20, count)
	})

	t.Run("drain on idle queue returns immediately", func(t *testing.T) {
		q := NewQueue(newTestStore(t), nil)
		startWorker(t, q)

		require.NoError(t, q.Drain(ctx))
	})

	t.Run("drain honors context cancellation", func(t *testing.T) {
		q := NewQueue(newTestStore(t), nil)
		// No worker running, so the item never completes.
		require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, 1, "a.zip")}))

		drainCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, q.Drain(drainCtx), context.DeadlineExceeded)
	})

	t.Run("drain before worker stop flushes the backlog", func(t *testing.T) {
		db := newTestStore(t)
		q := NewQueue(db, nil)

		workerCtx, stopWorker := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			q.Run(workerCtx)
			close(done)
		}()

		for i := int64(1); i <= 10; i++ {
			name := fmt.Sprintf("file-%d.zip", i)
			require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, i, name)}))
		}

		// Shutdown order matters: the queue is flushed while the worker
		// still runs, and only then is the worker stopped.
		require.NoError(t, q.Drain(ctx))
		stopWorker()
		<-done

		count, err := db.CountRecords(ctx, -100123)
		require.NoError(t, err)
		assert.Equal(t, 10, count)
	})

	t.Run("duplicates are skipped silently", func(t *testing.T) {
		db := newTestStore(t)
		q := NewQueue(db, nil)
		startWorker(t, q)

		var mu sync.Mutex
		var outcomes []bool
		progress := func(rec *filegate.CatalogRecord, err error) {
			mu.Lock()
			outcomes = append(outcomes, rec != nil && err == nil)
			mu.Unlock()
		}

		ev := fileEvent(-100123, 7, "a.zip")
		require.NoError(t, q.Enqueue(ctx, Item{Event: ev, Progress: progress}))
		require.NoError(t, q.Enqueue(ctx, Item{Event: ev, Progress: progress}))
		require.NoError(t, q.Drain(ctx))

		count, err := db.CountRecords(ctx, -100123)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []bool{true, false}, outcomes)
	})

	t.Run("invalidates channel on each insert", func(t *testing.T) {
		inv := &recordingInvalidator{}
		q := NewQueue(newTestStore(t), inv)
		startWorker(t, q)

		require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, 1, "a.zip")}))
		require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, 2, "b.zip")}))
		require.NoError(t, q.Drain(ctx))

		assert.Equal(t, 2, inv.count())
		assert.Equal(t, []int64{-100123, -100123}, inv.calls)
	})

	t.Run("duplicates and deferred items do not invalidate", func(t *testing.T) {
		inv := &recordingInvalidator{}
		q := NewQueue(newTestStore(t), inv)
		startWorker(t, q)

		ev := fileEvent(-100123, 1, "a.zip")
		require.NoError(t, q.Enqueue(ctx, Item{Event: ev}))
		require.NoError(t, q.Enqueue(ctx, Item{Event: ev}))
		require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, 2, "b.zip"), DeferInvalidate: true}))
		require.NoError(t, q.Drain(ctx))

		assert.Equal(t, 1, inv.count())
	})

	t.Run("worker survives bad events and keeps processing", func(t *testing.T) {
		db := newTestStore(t)
		q := NewQueue(db, nil)
		startWorker(t, q)

		var mu sync.Mutex
		var gotErr error
		progress := func(_ *filegate.CatalogRecord, err error) {
			mu.Lock()
			gotErr = err
			mu.Unlock()
		}

		// No file name: extraction fails but the worker lives on.
		bad := transport.RawEvent{ChannelID: -100123, MessageID: 1}
		require.NoError(t, q.Enqueue(ctx, Item{Event: bad, Progress: progress}))
		require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, 2, "b.zip")}))
		require.NoError(t, q.Drain(ctx))

		mu.Lock()
		assert.ErrorIs(t, gotErr, ErrNoFile)
		mu.Unlock()

		count, err := db.CountRecords(ctx, -100123)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("worker survives panicking progress callback", func(t *testing.T) {
		db := newTestStore(t)
		q := NewQueue(db, nil)
		startWorker(t, q)

		require.NoError(t, q.Enqueue(ctx, Item{
			Event:    fileEvent(-100123, 1, "a.zip"),
			Progress: func(*filegate.CatalogRecord, error) { panic("boom") },
		}))
		require.NoError(t, q.Enqueue(ctx, Item{Event: fileEvent(-100123, 2, "b.zip")}))
		require.NoError(t, q.Drain(ctx))

		count, err := db.CountRecords(ctx, -100123)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}
