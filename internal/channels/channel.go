// Package channels provides the chat platform abstraction used by the relay.
// The relay talks to exactly one platform; the interfaces here keep the
// delivery pipeline and dispatcher independent of the telego client.
package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
)

// Parse modes accepted by SendOptions.ParseMode.
const (
	ParseModeHTML       = "HTML"
	ParseModeMarkdownV2 = "MarkdownV2"
)

// SendOptions controls how a single text message is delivered.
type SendOptions struct {
	ReplyToMessageID      int    // 0 = not linked as a reply
	DisableWebPagePreview bool
	DisableNotification   bool
	ParseMode             string
}

// Sender is the platform send primitive.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (*bus.SentMessage, error)
}

// Platform is the full set of platform primitives the relay uses.
type Platform interface {
	Sender

	// SendTyping shows the typing indicator in a chat.
	SendTyping(ctx context.Context, chatID int64) error

	// Delete removes a previously sent message.
	Delete(ctx context.Context, chatID int64, messageID int) error

	// Start begins receiving messages; handler is invoked once per inbound message.
	Start(ctx context.Context, handler bus.MessageHandler) error

	// Stop shuts down the inbound stream.
	Stop(ctx context.Context) error
}

// SendError is a delivery failure reported by the platform API.
// Description carries the API's human-readable reason, e.g.
// "Bad Request: message is too long".
type SendError struct {
	Code        int
	Description string
	Err         error
}

func (e *SendError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("send failed (%d): %s", e.Code, e.Description)
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Description returns the platform description of err, or "" if err is not a SendError.
func Description(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Description
	}
	return ""
}

// Truncate shortens s to maxWidth display cells, appending "..." if truncated.
func Truncate(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "...")
}
