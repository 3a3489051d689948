package bus

import (
	"encoding/json"
	"time"
)

// ChatType values reported by the platform.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
)

// InboundMessage represents a text message received from the chat platform.
type InboundMessage struct {
	MessageID int       `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	ChatType  string    `json:"chat_type"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	IsBot     bool      `json:"is_bot,omitempty"`
	Text      string    `json:"text"`
	ReplyText string    `json:"reply_text,omitempty"` // text of the replied-to message, if any
	HasReply  bool      `json:"has_reply,omitempty"`
	Date      time.Time `json:"date"`
}

// IsPrivate reports whether the message came from a 1:1 chat.
func (m InboundMessage) IsPrivate() bool { return m.ChatType == ChatPrivate }

// SentMessage is the handle of a message delivered to the platform.
type SentMessage struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
	Date      int64 `json:"date,omitempty"` // unix seconds
}

// UnmarshalJSON also accepts a platform message object, where the chat id
// lives under "chat": {"id": ...}.
func (m *SentMessage) UnmarshalJSON(data []byte) error {
	type plain SentMessage
	var raw struct {
		plain
		Chat *struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = SentMessage(raw.plain)
	if m.ChatID == 0 && raw.Chat != nil {
		m.ChatID = raw.Chat.ID
	}
	return nil
}

// MessageHandler handles an inbound message.
type MessageHandler func(InboundMessage)
