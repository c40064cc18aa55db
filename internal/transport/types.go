// Package transport defines the chat-platform boundary. The core never
// talks to Telegram directly; it goes through this adapter contract so the
// services stay testable with fakes.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the platform client used by the bot surface and by the
// deletion job handler.
//
// DeleteMessage returns ErrMessageGone when the message no longer exists;
// callers treat that as success (deletion is idempotent by contract).
// CanDeleteMessages is a live permission probe for the chat.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	CanDeleteMessages(ctx context.Context, chatID int64) (bool, error)
}
