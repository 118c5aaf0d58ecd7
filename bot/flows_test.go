package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filegate"
	"filegate/auth"
	"filegate/ingest"
	"filegate/search"
	"filegate/store/botdb"
	"filegate/transport"
)

// captureTransport records every delivery and serves a fixed event set for
// backfills.
type captureTransport struct {
	mu         sync.Mutex
	deliveries []transport.Content
	events     map[int64]transport.RawEvent
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{events: make(map[int64]transport.RawEvent)}
}

func (c *captureTransport) Deliver(_ context.Context, _ int64, content transport.Content) (transport.Ack, error) {
	c.mu.Lock()
	c.deliveries = append(c.deliveries, content)
	c.mu.Unlock()
	return transport.Ack{MessageID: int64(len(c.deliveries))}, nil
}

func (c *captureTransport) FetchByID(_ context.Context, _, messageID int64) (*transport.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[messageID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return &ev, nil
}

func (c *captureTransport) AwaitReply(context.Context, int64, time.Duration) (*transport.RawEvent, error) {
	return nil, transport.ErrTimeout
}

func (c *captureTransport) last(t *testing.T) transport.Content {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.deliveries)
	return c.deliveries[len(c.deliveries)-1]
}

type fixture struct {
	bot   *Bot
	db    *botdb.DB
	gate  *auth.Gate
	cache *search.Cache
	tr    *captureTransport
	now   func() time.Time
}

func newFixture(t *testing.T, accessLimit int) *fixture {
	t.Helper()

	baseTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	currentTime := &baseTime
	now := func() time.Time { return *currentTime }

	db := botdb.New(botdb.WithNoSync(true), botdb.WithNow(now))
	require.NoError(t, db.Open(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { _ = db.Close() })

	tr := newCaptureTransport()
	cache := search.NewCache(search.WithCacheNow(now))
	searchSvc := search.NewService(db, cache, search.WithServiceNow(now))
	queue := ingest.NewQueue(db, cache, ingest.WithQueueNow(now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		queue.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	gate := auth.NewGate(db, auth.WithGateNow(now))

	b := New(Config{
		DB:          db,
		Authority:   auth.NewAuthority(db, auth.WithAuthorityNow(now)),
		Gate:        gate,
		Shortener:   auth.NewShortener("", ""),
		Queue:       queue,
		Backfill:    ingest.NewBackfiller(queue, tr, cache),
		Search:      searchSvc,
		Transport:   tr,
		BotUsername: "filegate_bot",
		AccessLimit: accessLimit,
		Now:         now,
	})

	return &fixture{bot: b, db: db, gate: gate, cache: cache, tr: tr, now: now}
}

func (f *fixture) authorize(t *testing.T, userID int64) {
	t.Helper()
	require.NoError(t, f.bot.cfg.Authority.Redeem(context.Background(), userID))
}

func (f *fixture) allowChannel(t *testing.T, channelID int64, name string) {
	t.Helper()
	require.NoError(t, f.bot.AddChannel(context.Background(), channelID, name))
}

func (f *fixture) addRecord(t *testing.T, channelID, messageID int64, name string) {
	t.Helper()
	require.NoError(t, f.db.InsertRecord(context.Background(), &filegate.CatalogRecord{
		ChannelID:   channelID,
		MessageID:   messageID,
		FileName:    name,
		FileSize:    1024,
		Date:        f.now(),
		Fingerprint: filegate.RecordFingerprint(channelID, messageID, name),
	}))
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("empty payload sends verification link", func(t *testing.T) {
		f := newFixture(t, 0)

		require.NoError(t, f.bot.Start(ctx, 100, 42, ""))

		msg := f.tr.last(t)
		assert.Contains(t, msg.Text, "https://t.me/filegate_bot?start=token_")
	})

	t.Run("already verified user is told so", func(t *testing.T) {
		f := newFixture(t, 0)
		f.authorize(t, 42)

		require.NoError(t, f.bot.Start(ctx, 100, 42, ""))
		assert.Equal(t, msgAlreadyVerified, f.tr.last(t).Text)
	})

	t.Run("valid token payload verifies the user", func(t *testing.T) {
		f := newFixture(t, 0)

		tokenID, err := f.bot.cfg.Authority.Issue(ctx, 42)
		require.NoError(t, err)

		require.NoError(t, f.bot.Start(ctx, 100, 42, "token_"+tokenID))
		assert.Equal(t, msgVerified, f.tr.last(t).Text)
		assert.True(t, f.gate.IsAuthorized(ctx, 42))
	})

	t.Run("another user's token does not verify", func(t *testing.T) {
		f := newFixture(t, 0)

		tokenID, err := f.bot.cfg.Authority.Issue(ctx, 43)
		require.NoError(t, err)

		require.NoError(t, f.bot.Start(ctx, 100, 42, "token_"+tokenID))
		assert.Contains(t, f.tr.last(t).Text, "invalid")
		assert.False(t, f.gate.IsAuthorized(ctx, 42))
	})

	t.Run("file payload routes to delivery", func(t *testing.T) {
		f := newFixture(t, 0)
		f.authorize(t, 42)
		f.allowChannel(t, -100123, "isos")
		f.addRecord(t, -100123, 7, "debian.iso")

		require.NoError(t, f.bot.Start(ctx, 100, 42, "file_-100123_7"))

		msg := f.tr.last(t)
		assert.Equal(t, int64(-100123), msg.FromChannelID)
		assert.Equal(t, int64(7), msg.FromMessageID)
	})
}

func TestRequestFile(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthorized user gets a verification prompt", func(t *testing.T) {
		f := newFixture(t, 0)

		require.NoError(t, f.bot.RequestFile(ctx, 100, 42, -100123, 7))

		msg := f.tr.last(t)
		assert.Contains(t, msg.Text, "token_")
		assert.Zero(t, msg.FromChannelID)
	})

	t.Run("disallowed channel is refused", func(t *testing.T) {
		f := newFixture(t, 0)
		f.authorize(t, 42)
		f.addRecord(t, -100123, 7, "debian.iso")

		require.NoError(t, f.bot.RequestFile(ctx, 100, 42, -100123, 7))
		assert.Equal(t, msgChannelDenied, f.tr.last(t).Text)
	})

	t.Run("missing record is reported", func(t *testing.T) {
		f := newFixture(t, 0)
		f.authorize(t, 42)
		f.allowChannel(t, -100123, "isos")

		require.NoError(t, f.bot.RequestFile(ctx, 100, 42, -100123, 999))
		assert.Equal(t, msgFileNotFound, f.tr.last(t).Text)
	})

	t.Run("delivers and counts against the limit", func(t *testing.T) {
		f := newFixture(t, 2)
		f.authorize(t, 42)
		f.allowChannel(t, -100123, "isos")
		f.addRecord(t, -100123, 1, "a.iso")
		f.addRecord(t, -100123, 2, "b.iso")
		f.addRecord(t, -100123, 3, "c.iso")

		require.NoError(t, f.bot.RequestFile(ctx, 100, 42, -100123, 1))
		require.NoError(t, f.bot.RequestFile(ctx, 100, 42, -100123, 2))
		assert.Equal(t, 2, f.gate.AccessCount(42))

		// Third request hits the cap.
		require.NoError(t, f.bot.RequestFile(ctx, 100, 42, -100123, 3))
		assert.Equal(t, msgLimitReached, f.tr.last(t).Text)
		assert.Equal(t, 2, f.gate.AccessCount(42))
	})
}

func TestHandleChannelPost(t *testing.T) {
	ctx := context.Background()

	t.Run("allowed channel post is ingested", func(t *testing.T) {
		f := newFixture(t, 0)
		f.allowChannel(t, -100123, "isos")

		require.NoError(t, f.bot.HandleChannelPost(ctx, transport.RawEvent{
			ChannelID: -100123,
			MessageID: 7,
			FileName:  "debian.iso",
			FileSize:  4096,
			Date:      f.now(),
		}))
		require.NoError(t, f.bot.cfg.Queue.Drain(ctx))

		rec, err := f.db.GetRecord(ctx, -100123, 7)
		require.NoError(t, err)
		assert.Equal(t, "debian.iso", rec.FileName)
	})

	t.Run("disallowed channel post is dropped", func(t *testing.T) {
		f := newFixture(t, 0)

		require.NoError(t, f.bot.HandleChannelPost(ctx, transport.RawEvent{
			ChannelID: -100999,
			MessageID: 7,
			FileName:  "debian.iso",
		}))
		require.NoError(t, f.bot.cfg.Queue.Drain(ctx))

		count, err := f.db.CountRecords(ctx, -100999)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("ingested post invalidates cached searches", func(t *testing.T) {
		f := newFixture(t, 0)
		f.allowChannel(t, -100123, "isos")
		f.addRecord(t, -100123, 1, "debian-11.iso")

		res, err := f.bot.cfg.Search.Search(ctx, "debian", 0, -100123)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)

		require.NoError(t, f.bot.HandleChannelPost(ctx, transport.RawEvent{
			ChannelID: -100123,
			MessageID: 2,
			FileName:  "debian-12.iso",
			Date:      f.now(),
		}))
		require.NoError(t, f.bot.cfg.Queue.Drain(ctx))

		res, err = f.bot.cfg.Search.Search(ctx, "debian", 0, -100123)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
	})
}

func TestMessageTexts(t *testing.T) {
	// Refusals must never leak internals like ids or bucket names.
	for _, msg := range []string{msgLimitReached, msgFileNotFound, msgChannelDenied} {
		assert.False(t, strings.Contains(msg, "%"), "message %q has an unfilled verb", msg)
	}
}
