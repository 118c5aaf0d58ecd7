package botdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filegate"
)

func TestChannels(t *testing.T) {
	ctx := context.Background()

	t.Run("put list delete", func(t *testing.T) {
		db := newTestDB(t)

		require.NoError(t, db.PutChannel(ctx, &filegate.AllowedChannel{ChannelID: -100123, ChannelName: "isos"}))
		require.NoError(t, db.PutChannel(ctx, &filegate.AllowedChannel{ChannelID: -100456, ChannelName: "docs"}))

		channels, err := db.ListChannels(ctx)
		require.NoError(t, err)
		assert.Len(t, channels, 2)

		require.NoError(t, db.DeleteChannel(ctx, -100123))

		channels, err = db.ListChannels(ctx)
		require.NoError(t, err)
		require.Len(t, channels, 1)
		assert.Equal(t, int64(-100456), channels[0].ChannelID)
	})

	t.Run("put overwrites name", func(t *testing.T) {
		db := newTestDB(t)

		require.NoError(t, db.PutChannel(ctx, &filegate.AllowedChannel{ChannelID: -100123, ChannelName: "old"}))
		require.NoError(t, db.PutChannel(ctx, &filegate.AllowedChannel{ChannelID: -100123, ChannelName: "new"}))

		channels, err := db.ListChannels(ctx)
		require.NoError(t, err)
		require.Len(t, channels, 1)
		assert.Equal(t, "new", channels[0].ChannelName)
	})
}
