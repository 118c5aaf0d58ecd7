package botdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filegate"
)

func TestReaper(t *testing.T) {
	ctx := context.Background()
	baseTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("reaps expired tokens and sessions", func(t *testing.T) {
		currentTime := baseTime
		db := newTestDB(t, WithNow(func() time.Time { return currentTime }))

		require.NoError(t, db.PutToken(ctx, &filegate.AccessToken{
			TokenID:  "tok-old",
			UserID:   1,
			IssuedAt: baseTime,
			Expiry:   baseTime.Add(filegate.TokenValidity),
		}))
		require.NoError(t, db.PutSession(ctx, &filegate.SessionAuthorization{
			UserID:          1,
			AuthorizedUntil: baseTime.Add(filegate.TokenValidity),
		}))
		require.NoError(t, db.PutSession(ctx, &filegate.SessionAuthorization{
			UserID:          2,
			AuthorizedUntil: baseTime.Add(100 * time.Hour),
		}))

		currentTime = baseTime.Add(25 * time.Hour)

		reaper := NewReaper(db, WithReaperInterval(time.Minute))
		reaper.ReapNow(ctx)

		_, err := db.GetToken(ctx, "tok-old")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = db.GetSession(ctx, 1)
		require.ErrorIs(t, err, ErrNotFound)

		// The live session survives the sweep.
		_, err = db.GetSession(ctx, 2)
		require.NoError(t, err)
	})

	t.Run("respects batch size per sweep", func(t *testing.T) {
		currentTime := baseTime
		db := newTestDB(t, WithNow(func() time.Time { return currentTime }))

		for i := int64(1); i <= 10; i++ {
			require.NoError(t, db.PutToken(ctx, &filegate.AccessToken{
				TokenID:  fmt.Sprintf("tok-%d", i),
				UserID:   i,
				IssuedAt: baseTime,
				Expiry:   baseTime.Add(filegate.TokenValidity),
			}))
		}

		currentTime = baseTime.Add(25 * time.Hour)

		reaper := NewReaper(db, WithReaperBatchSize(3))
		reaper.ReapNow(ctx)

		remaining, err := db.ExpiredTokens(ctx, currentTime, 100)
		require.NoError(t, err)
		assert.Len(t, remaining, 7)

		reaper.ReapNow(ctx)
		remaining, err = db.ExpiredTokens(ctx, currentTime, 100)
		require.NoError(t, err)
		assert.Len(t, remaining, 4)
	})

	t.Run("does nothing when nothing is expired", func(t *testing.T) {
		currentTime := baseTime
		db := newTestDB(t, WithNow(func() time.Time { return currentTime }))

		require.NoError(t, db.PutToken(ctx, &filegate.AccessToken{
			TokenID:  "tok-live",
			UserID:   1,
			IssuedAt: baseTime,
			Expiry:   baseTime.Add(filegate.TokenValidity),
		}))

		currentTime = baseTime.Add(time.Hour)

		NewReaper(db).ReapNow(ctx)

		_, err := db.GetToken(ctx, "tok-live")
		require.NoError(t, err)
	})

	t.Run("run stops on context cancel", func(t *testing.T) {
		db := newTestDB(t)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			NewReaper(db, WithReaperInterval(10*time.Millisecond)).Run(runCtx)
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reaper did not stop")
		}
	})
}
