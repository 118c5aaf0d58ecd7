package main

import (
	"context"
	"log/slog"
	"time"

	"filegate/transport"
)

// loggingTransport is the stand-in used when no messaging client is bound:
// deliveries are logged and acknowledged, nothing can be fetched or awaited.
// A real deployment swaps in a client implementing transport.Transport.
type loggingTransport struct {
	logger *slog.Logger
}

func newLoggingTransport(logger *slog.Logger) *loggingTransport {
	return &loggingTransport{logger: logger}
}

func (t *loggingTransport) Deliver(_ context.Context, chatID int64, content transport.Content) (transport.Ack, error) {
	t.logger.Info("delivery",
		"chat_id", chatID,
		"text", content.Text,
		"from_channel_id", content.FromChannelID,
		"from_message_id", content.FromMessageID,
	)
	return transport.Ack{}, nil
}

func (t *loggingTransport) FetchByID(_ context.Context, channelID, messageID int64) (*transport.RawEvent, error) {
	t.logger.Debug("fetch requested with no transport bound",
		"channel_id", channelID, "message_id", messageID)
	return nil, transport.ErrNotFound
}

func (t *loggingTransport) AwaitReply(ctx context.Context, chatID int64, timeout time.Duration) (*transport.RawEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, transport.ErrTimeout
	}
}
