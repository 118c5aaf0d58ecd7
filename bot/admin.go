package bot

import (
	"context"
	"fmt"

	"filegate"
	"filegate/ingest"
	"filegate/store/botdb"
)

// AddChannel adds a source channel to the allowed set. The gate's channel
// cache and the channel's search entries are invalidated so the change is
// visible immediately.
func (b *Bot) AddChannel(ctx context.Context, channelID int64, name string) error {
	ch := &filegate.AllowedChannel{ChannelID: channelID, ChannelName: name}
	if err := b.cfg.DB.PutChannel(ctx, ch); err != nil {
		return fmt.Errorf("adding channel %d: %w", channelID, err)
	}

	b.cfg.Gate.InvalidateChannels()
	b.cfg.Search.Cache().Invalidate(channelID)

	b.logger.Info("channel added", "channel_id", channelID, "channel_name", name)
	return nil
}

// RemoveChannel removes a source channel from the allowed set. Its catalog
// records stay; they just become unreachable through the gate.
func (b *Bot) RemoveChannel(ctx context.Context, channelID int64) error {
	if err := b.cfg.DB.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("removing channel %d: %w", channelID, err)
	}

	b.cfg.Gate.InvalidateChannels()
	b.cfg.Search.Cache().Invalidate(channelID)

	b.logger.Info("channel removed", "channel_id", channelID)
	return nil
}

// DeleteFile removes a catalog record and evicts the cached searches that
// could still list it.
func (b *Bot) DeleteFile(ctx context.Context, channelID, messageID int64) error {
	if err := b.cfg.DB.DeleteRecord(ctx, channelID, messageID); err != nil {
		return fmt.Errorf("deleting record %d/%d: %w", channelID, messageID, err)
	}

	b.cfg.Search.Cache().Invalidate(channelID)

	b.logger.Info("file deleted", "channel_id", channelID, "message_id", messageID)
	return nil
}

// Backfill bulk-imports a channel's message range through the ingestion
// queue. The channel must already be in the allowed set.
func (b *Bot) Backfill(ctx context.Context, channelID, firstID, lastID int64) (ingest.Result, error) {
	allowed, err := b.cfg.Gate.IsAllowedChannel(ctx, channelID)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("checking channel %d: %w", channelID, err)
	}
	if !allowed {
		return ingest.Result{}, fmt.Errorf("channel %d is not in the allowed set", channelID)
	}

	return b.cfg.Backfill.Run(ctx, channelID, firstID, lastID)
}

// Stats returns store-wide totals for the administrative surface.
func (b *Bot) Stats(ctx context.Context) (*botdb.Stats, error) {
	return b.cfg.DB.Stats(ctx)
}
