package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Backend is the interface all completion providers implement.
type Backend interface {
	// Complete sends the transcript and returns the assistant's reply text.
	// Failures are *CompletionError.
	Complete(ctx context.Context, history []Message, opts Options) (string, error)

	// Name returns the provider identifier (e.g. "copilot", "claude").
	Name() string
}

// RawCompleter is implemented by backends that accept a pre-formatted prompt.
type RawCompleter interface {
	CompleteRaw(ctx context.Context, prompt string, opts Options) (string, error)
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Options tunes one completion call. Zero MaxTokens means the provider default.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// DefaultOptions are used for tracked conversation turns.
func DefaultOptions() Options {
	return Options{Temperature: 0.1}
}

// VerbatimTemperature is the default temperature for one-shot completions.
const VerbatimTemperature = 0.7

// Selector names a backend. The zero value selects the default provider.
type Selector string

const (
	SelectorDefault Selector = ""
	SelectorClaude  Selector = "claude"
)

// Valid reports whether s names a known backend.
func (s Selector) Valid() bool {
	return s == SelectorDefault || s == SelectorClaude
}

func (s Selector) String() string {
	if s == SelectorDefault {
		return "default"
	}
	return string(s)
}

// MarshalJSON encodes the default selector as null.
func (s Selector) MarshalJSON() ([]byte, error) {
	if s == SelectorDefault {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Selector) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SelectorDefault
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("backend selector: %w", err)
	}
	*s = Selector(v)
	return nil
}

// trimmed returns a copy of msgs with surrounding whitespace removed from each content.
func trimmed(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: strings.TrimSpace(m.Content)}
	}
	return out
}
