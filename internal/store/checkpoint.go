package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
)

// ErrNotFound is returned by Load when no checkpoint exists for the key.
var ErrNotFound = errors.New("checkpoint not found")

// Key identifies one conversation: a user within a chat.
type Key struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

func (k Key) String() string { return fmt.Sprintf("%d/%d", k.ChatID, k.UserID) }

// CustomProfile is a user-defined persona.
type CustomProfile struct {
	Name      string `json:"name"`
	NameOther string `json:"name_other"`
	Persona   string `json:"persona"`
}

// OverflowAccount is the per-conversation account on the overflow sink.
type OverflowAccount struct {
	AccessToken string `json:"access_token"`
	AuthorName  string `json:"author_name"`
	ShortName   string `json:"short_name,omitempty"`
}

// SessionState is the conversation payload of a checkpoint.
type SessionState struct {
	ConversationHistory []providers.Message `json:"conversation_history"`
	Backend             providers.Selector  `json:"backend"`
}

// Checkpoint is the persisted form of one conversation session.
type Checkpoint struct {
	IsWorking       bool             `json:"is_working"`
	Profile         *string          `json:"profile"`
	CustomProfile   *CustomProfile   `json:"custom_profile"`
	LastMessage     *bus.SentMessage `json:"last_message"`
	Mode            string           `json:"mode,omitempty"`
	TelegraphConfig *OverflowAccount `json:"telegraph_config,omitempty"`
	Checkpoint      SessionState     `json:"checkpoint"`
}

// Store persists checkpoints keyed by (chat, user). Last writer wins.
type Store interface {
	// Load returns ErrNotFound when no checkpoint exists.
	Load(ctx context.Context, chatID, userID int64) (*Checkpoint, error)
	Save(ctx context.Context, chatID, userID int64, cp *Checkpoint) error
	List(ctx context.Context) ([]Key, error)
	Close() error
}
