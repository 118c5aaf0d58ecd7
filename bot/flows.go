package bot

import (
	"context"
	"errors"
	"fmt"

	"filegate"
	"filegate/ingest"
	"filegate/store/botdb"
	"filegate/telemetry"
	"filegate/transport"
)

const (
	msgAlreadyVerified = "You are already verified. Send me a file link to get started."
	msgVerifyPrompt    = "Tap the link below to verify your access. The link is valid for 24 hours.\n\n%s"
	msgVerified        = "Verification successful. Your access is valid for the next 24 hours."
	msgTokenInvalid    = "That verification link is invalid or has expired. Here is a fresh one:\n\n%s"
	msgNotAuthorized   = "You need to verify before requesting files. Tap the link below:\n\n%s"
	msgLimitReached    = "You have reached your file access limit."
	msgFileNotFound    = "That file is no longer available."
	msgChannelDenied   = "That file comes from a channel this bot does not serve."
)

// Start handles the /start conversation entry point. The payload selects the
// flow: a token deep link redeems it, a file deep link requests delivery,
// anything else begins verification.
func (b *Bot) Start(ctx context.Context, chatID, userID int64, payload string) error {
	if tokenID, ok := filegate.ParseTokenPayload(payload); ok {
		return b.redeemToken(ctx, chatID, userID, tokenID)
	}
	if channelID, messageID, ok := filegate.ParseFilePayload(payload); ok {
		return b.RequestFile(ctx, chatID, userID, channelID, messageID)
	}
	return b.beginVerification(ctx, chatID, userID)
}

func (b *Bot) beginVerification(ctx context.Context, chatID, userID int64) error {
	if b.cfg.Gate.IsAuthorized(ctx, userID) {
		return b.sendText(ctx, chatID, msgAlreadyVerified)
	}
	link, err := b.verificationLink(ctx, userID)
	if err != nil {
		return err
	}
	return b.sendText(ctx, chatID, fmt.Sprintf(msgVerifyPrompt, link))
}

func (b *Bot) redeemToken(ctx context.Context, chatID, userID int64, tokenID string) error {
	if !b.cfg.Authority.Validate(ctx, tokenID, userID) {
		b.logger.Info("token redemption rejected", "user_id", userID, "token_id", tokenID)
		link, err := b.verificationLink(ctx, userID)
		if err != nil {
			return err
		}
		return b.sendText(ctx, chatID, fmt.Sprintf(msgTokenInvalid, link))
	}

	if err := b.cfg.Authority.Redeem(ctx, userID); err != nil {
		return fmt.Errorf("redeeming token: %w", err)
	}
	return b.sendText(ctx, chatID, msgVerified)
}

// verificationLink issues (or reuses) the user's token and returns the
// shortened deep link for it.
func (b *Bot) verificationLink(ctx context.Context, userID int64) (string, error) {
	tokenID, err := b.cfg.Authority.Issue(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	long := filegate.TokenLink(b.cfg.BotUsername, tokenID)
	return b.cfg.Shortener.Shorten(ctx, long), nil
}

// RequestFile delivers the catalog record to the chat once every gate passes:
// the session must be live, the source channel allowed, and the user under
// their access limit. Each refusal is delivered as a message, not an error;
// errors mean the flow itself broke.
func (b *Bot) RequestFile(ctx context.Context, chatID, userID, channelID, messageID int64) error {
	if !b.cfg.Gate.IsAuthorized(ctx, userID) {
		telemetry.RecordDelivery(ctx, "denied_auth")
		link, err := b.verificationLink(ctx, userID)
		if err != nil {
			return err
		}
		return b.sendText(ctx, chatID, fmt.Sprintf(msgNotAuthorized, link))
	}

	allowed, err := b.cfg.Gate.IsAllowedChannel(ctx, channelID)
	if err != nil {
		telemetry.RecordDelivery(ctx, "error")
		return fmt.Errorf("checking channel %d: %w", channelID, err)
	}
	if !allowed {
		telemetry.RecordDelivery(ctx, "denied_channel")
		b.logger.Warn("file request for disallowed channel",
			"user_id", userID, "channel_id", channelID)
		return b.sendText(ctx, chatID, msgChannelDenied)
	}

	if !b.cfg.Gate.CheckAndIncrementAccess(userID, b.cfg.AccessLimit) {
		telemetry.RecordDelivery(ctx, "denied_limit")
		return b.sendText(ctx, chatID, msgLimitReached)
	}

	rec, err := b.cfg.DB.GetRecord(ctx, channelID, messageID)
	if err != nil {
		if errors.Is(err, botdb.ErrNotFound) {
			telemetry.RecordDelivery(ctx, "not_found")
			return b.sendText(ctx, chatID, msgFileNotFound)
		}
		telemetry.RecordDelivery(ctx, "error")
		return fmt.Errorf("loading record %d/%d: %w", channelID, messageID, err)
	}

	_, err = b.cfg.Transport.Deliver(ctx, chatID, transport.Content{
		Text:          rec.FileName,
		FromChannelID: rec.ChannelID,
		FromMessageID: rec.MessageID,
	})
	if err != nil {
		telemetry.RecordDelivery(ctx, "error")
		return fmt.Errorf("delivering %d/%d: %w", channelID, messageID, err)
	}

	telemetry.RecordDelivery(ctx, "delivered")
	b.logger.Info("file delivered",
		"user_id", userID,
		"channel_id", channelID,
		"message_id", messageID,
		"file_name", rec.FileName)
	return nil
}

// HandleChannelPost ingests a new post from a source channel. Posts from
// channels outside the allowed set are dropped. The worker invalidates the
// channel's cached searches as part of the write, so nothing else is needed
// here.
func (b *Bot) HandleChannelPost(ctx context.Context, ev transport.RawEvent) error {
	allowed, err := b.cfg.Gate.IsAllowedChannel(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("checking channel %d: %w", ev.ChannelID, err)
	}
	if !allowed {
		b.logger.Debug("ignoring post from disallowed channel", "channel_id", ev.ChannelID)
		return nil
	}

	return b.cfg.Queue.Enqueue(ctx, ingest.Item{Event: ev})
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string) error {
	if _, err := b.cfg.Transport.Deliver(ctx, chatID, transport.Content{Text: text}); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}
