package notifier

import (
	"context"
	"errors"
)

var ErrDisabled = errors.New("notifier disabled")

// Config is the resolved Telegram target.
type Config struct {
	Enabled        bool
	Token          string
	ChatID         int64
	ThreadID       int
	RatePerSec     int
	SendScreenshot bool
}

// Target is a chat, optionally narrowed to a forum topic.
type Target struct {
	ChatID   int64
	ThreadID int
}

// Sender delivers messages. The telebot implementation is the only one outside tests.
type Sender interface {
	SendText(ctx context.Context, to Target, text string) error
	SendPhoto(ctx context.Context, to Target, path, caption string) error
}
