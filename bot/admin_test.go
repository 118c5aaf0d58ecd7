package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filegate/store/botdb"
	"filegate/transport"
)

func TestAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("add and remove channel update the gate", func(t *testing.T) {
		f := newFixture(t, 0)

		require.NoError(t, f.bot.AddChannel(ctx, -100123, "isos"))

		ok, err := f.gate.IsAllowedChannel(ctx, -100123)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, f.bot.RemoveChannel(ctx, -100123))

		ok, err = f.gate.IsAllowedChannel(ctx, -100123)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("removing channel keeps its records", func(t *testing.T) {
		f := newFixture(t, 0)
		f.allowChannel(t, -100123, "isos")
		f.addRecord(t, -100123, 7, "debian.iso")

		require.NoError(t, f.bot.RemoveChannel(ctx, -100123))

		_, err := f.db.GetRecord(ctx, -100123, 7)
		require.NoError(t, err)
	})

	t.Run("delete file evicts cached searches", func(t *testing.T) {
		f := newFixture(t, 0)
		f.allowChannel(t, -100123, "isos")
		f.addRecord(t, -100123, 7, "debian.iso")

		res, err := f.bot.cfg.Search.Search(ctx, "debian", 0, -100123)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)

		require.NoError(t, f.bot.DeleteFile(ctx, -100123, 7))

		_, err = f.db.GetRecord(ctx, -100123, 7)
		require.ErrorIs(t, err, botdb.ErrNotFound)

		res, err = f.bot.cfg.Search.Search(ctx, "debian", 0, -100123)
		require.NoError(t, err)
		assert.Zero(t, res.Total)
	})

	t.Run("backfill requires an allowed channel", func(t *testing.T) {
		f := newFixture(t, 0)

		_, err := f.bot.Backfill(ctx, -100123, 1, 10)
		require.Error(t, err)
	})

	t.Run("backfill imports fetched messages", func(t *testing.T) {
		f := newFixture(t, 0)
		f.allowChannel(t, -100123, "isos")

		f.tr.events[3] = transport.RawEvent{
			ChannelID: -100123,
			MessageID: 3,
			FileName:  "debian.iso",
			FileSize:  4096,
		}

		res, err := f.bot.Backfill(ctx, -100123, 1, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Fetched)
		assert.Equal(t, 4, res.Skipped)

		_, err = f.db.GetRecord(ctx, -100123, 3)
		require.NoError(t, err)
	})

	t.Run("stats sums the collections", func(t *testing.T) {
		f := newFixture(t, 0)
		f.allowChannel(t, -100123, "isos")
		f.addRecord(t, -100123, 1, "a.iso")
		f.addRecord(t, -100123, 2, "b.iso")

		stats, err := f.bot.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalFiles)
		assert.Equal(t, int64(2048), stats.TotalBytes)
		assert.Equal(t, 1, stats.TotalChannels)
	})
}
