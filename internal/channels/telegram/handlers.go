package telegram

import (
	"log/slog"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
)

// toInbound converts a Telegram message. Messages from bots, messages without
// a sender and messages without text are not relayed.
func toInbound(message *telego.Message) (bus.InboundMessage, bool) {
	if message == nil || message.From == nil {
		return bus.InboundMessage{}, false
	}
	if message.From.IsBot || message.Text == "" {
		return bus.InboundMessage{}, false
	}

	msg := bus.InboundMessage{
		MessageID: message.MessageID,
		ChatID:    message.Chat.ID,
		ChatType:  message.Chat.Type,
		UserID:    message.From.ID,
		Username:  message.From.Username,
		IsBot:     message.From.IsBot,
		Text:      message.Text,
		Date:      time.Unix(message.Date, 0),
	}
	if r := message.ReplyToMessage; r != nil && r.Text != "" {
		msg.HasReply = true
		msg.ReplyText = r.Text
	}

	slog.Debug("telegram message received",
		"chat_type", msg.ChatType,
		"chat_id", msg.ChatID,
		"user_id", msg.UserID,
		"username", msg.Username,
		"text_preview", channels.Truncate(msg.Text, 60),
	)
	return msg, true
}
