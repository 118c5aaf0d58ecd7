// Package transport defines the seam to the messaging transport. The core
// treats the transport as opaque: it only needs to deliver content to a chat,
// fetch a channel message by id during backfills, and wait for a reply. The
// concrete client lives outside this repository.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by FetchByID when the message does not exist or
// carries no extractable file.
var ErrNotFound = errors.New("transport: message not found")

// ErrTimeout is returned by AwaitReply when no reply arrives in time.
var ErrTimeout = errors.New("transport: reply timeout")

// RawEvent is the extractable metadata of a "file arrived" message. The core
// never touches file bytes; files stay in the source channel and are
// re-delivered by reference.
type RawEvent struct {
	ChannelID int64
	MessageID int64
	FileName  string
	FileSize  int64
	MimeType  string
	Date      time.Time
}

// Content is what Deliver sends to a chat: a text message, a file forwarded
// from a source channel by reference, or both.
type Content struct {
	Text string

	// When FromChannelID is non-zero the transport copies the file message
	// (FromChannelID, FromMessageID) into the destination chat.
	FromChannelID int64
	FromMessageID int64
}

// Ack acknowledges a delivery.
type Ack struct {
	MessageID int64
}

// Transport is the messaging client surface the core depends on.
type Transport interface {
	// Deliver sends content to a chat.
	Deliver(ctx context.Context, chatID int64, content Content) (Ack, error)

	// FetchByID retrieves the raw event for a channel message, or
	// ErrNotFound if the message is missing or has no file.
	FetchByID(ctx context.Context, channelID, messageID int64) (*RawEvent, error)

	// AwaitReply waits for the next message from the chat, or ErrTimeout.
	AwaitReply(ctx context.Context, chatID int64, timeout time.Duration) (*RawEvent, error)
}
