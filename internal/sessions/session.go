package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/personas"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

var (
	ErrInvalidProfile = errors.New("invalid profile")
	ErrInvalidBackend = errors.New("invalid backend")
)

// Mode is the kind of the last exchange.
type Mode string

const (
	ModeChat     Mode = "chat"
	ModeVerbatim Mode = "verbatim"
	ModeRaw      Mode = "raw"
)

// Session is the conversation state of one user in one chat.
// Safe for concurrent use; at most one exchange runs at a time (TryBeginWork).
type Session struct {
	key      store.Key
	personas *personas.Registry
	backends *providers.Registry

	mu          sync.Mutex
	history     []providers.Message
	backend     providers.Selector
	working     bool
	profile     string
	custom      *store.CustomProfile
	lastMessage *bus.SentMessage
	overflow    *store.OverflowAccount
	mode        Mode
	generation  uint64 // bumped by Reset; stale exchanges do not commit
}

func newSession(key store.Key, p *personas.Registry, b *providers.Registry) *Session {
	return &Session{key: key, personas: p, backends: b, mode: ModeChat}
}

func (s *Session) Key() store.Key { return s.key }

// InitProfile replaces the history with the system prompt of a catalogue persona.
func (s *Session) InitProfile(name string) error {
	if s.personas == nil {
		return ErrInvalidProfile
	}
	p, ok := s.personas.Get(name)
	if !ok {
		return ErrInvalidProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = []providers.Message{{Role: providers.RoleSystem, Content: SystemPrompt(p.Persona)}}
	s.profile = name
	s.custom = nil
	return nil
}

// InitCustom replaces the history with the system prompt of a user-defined persona.
func (s *Session) InitCustom(cp store.CustomProfile) error {
	if cp.Name == "" || cp.NameOther == "" || cp.Persona == "" {
		return ErrInvalidProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = []providers.Message{{Role: providers.RoleSystem, Content: SystemPrompt(cp.Persona)}}
	s.profile = ""
	s.custom = &cp
	return nil
}

// WithBackend selects the completion backend.
func (s *Session) WithBackend(sel providers.Selector) error {
	if !sel.Valid() {
		return ErrInvalidBackend
	}
	s.mu.Lock()
	s.backend = sel
	s.mu.Unlock()
	return nil
}

func (s *Session) Backend() providers.Selector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

func (s *Session) resolve() (providers.Backend, error) {
	s.mu.Lock()
	sel := s.backend
	s.mu.Unlock()

	if s.backends == nil {
		return nil, &providers.CompletionError{Provider: sel.String(), Reason: "backend not configured"}
	}
	b, err := s.backends.Get(sel)
	if err != nil {
		return nil, &providers.CompletionError{Provider: sel.String(), Reason: "backend not configured", Err: err}
	}
	return b, nil
}

// Send runs one tracked conversation turn. On success the user turn and the
// trimmed reply are appended to the history. The history is unchanged on
// failure or when the reply is empty.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	backend, err := s.resolve()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	transcript := make([]providers.Message, len(s.history), len(s.history)+2)
	copy(transcript, s.history)
	transcript = append(transcript, providers.Message{Role: providers.RoleUser, Content: strings.TrimSpace(text)})
	gen := s.generation
	s.mu.Unlock()

	reply, err := backend.Complete(ctx, transcript, providers.DefaultOptions())
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", nil
	}

	s.mu.Lock()
	if s.generation == gen {
		s.history = append(transcript, providers.Message{Role: providers.RoleAssistant, Content: reply})
		s.mode = ModeChat
	}
	s.mu.Unlock()
	return reply, nil
}

// Complete runs a one-shot completion of prompt as a single user message.
// The history is not touched.
func (s *Session) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	backend, err := s.resolve()
	if err != nil {
		return "", err
	}
	reply, err := backend.Complete(ctx, []providers.Message{{Role: providers.RoleUser, Content: prompt}}, providers.Options{Temperature: temperature})
	if err != nil {
		return "", err
	}
	s.SetMode(ModeVerbatim)
	return reply, nil
}

// TryBeginWork marks the session working. It returns false if an exchange is
// already running.
func (s *Session) TryBeginWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.working {
		return false
	}
	s.working = true
	return true
}

func (s *Session) EndWork() {
	s.mu.Lock()
	s.working = false
	s.mu.Unlock()
}

// ForceIdle clears a stuck working flag.
func (s *Session) ForceIdle() { s.EndWork() }

func (s *Session) Working() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working
}

// Reset returns the session to a fresh idle state. The backend selection and
// the overflow account carry over. An exchange still in flight will not commit
// its turn.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.working = false
	s.profile = ""
	s.custom = nil
	s.lastMessage = nil
	s.mode = ModeChat
	s.generation++
}

// History returns a copy of the conversation history.
func (s *Session) History() []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]providers.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Profile returns the catalogue persona name, or "" if none.
func (s *Session) Profile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Session) CustomProfile() *store.CustomProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.custom == nil {
		return nil
	}
	cp := *s.custom
	return &cp
}

// Uninitialized reports whether the session has no persona and has never
// delivered a reply.
func (s *Session) Uninitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile == "" && s.custom == nil && s.lastMessage == nil
}

func (s *Session) SetLastMessage(m *bus.SentMessage) {
	s.mu.Lock()
	s.lastMessage = m
	s.mu.Unlock()
}

func (s *Session) LastMessage() *bus.SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

func (s *Session) OverflowAccount() *store.OverflowAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

func (s *Session) SetOverflowAccount(a *store.OverflowAccount) {
	s.mu.Lock()
	s.overflow = a
	s.mu.Unlock()
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Checkpoint captures the persistable state. The working flag is never persisted.
func (s *Session) Checkpoint() *store.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &store.Checkpoint{
		Mode:            string(s.mode),
		CustomProfile:   s.custom,
		LastMessage:     s.lastMessage,
		TelegraphConfig: s.overflow,
		Checkpoint: store.SessionState{
			ConversationHistory: make([]providers.Message, len(s.history)),
			Backend:             s.backend,
		},
	}
	copy(cp.Checkpoint.ConversationHistory, s.history)
	if s.profile != "" {
		p := s.profile
		cp.Profile = &p
	}
	return cp
}

// restore loads state from a checkpoint. Restored sessions are idle.
func (s *Session) restore(cp *store.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append([]providers.Message(nil), cp.Checkpoint.ConversationHistory...)
	s.backend = cp.Checkpoint.Backend
	if !s.backend.Valid() {
		s.backend = providers.SelectorDefault
	}
	s.working = false
	s.profile = ""
	if cp.Profile != nil {
		s.profile = *cp.Profile
	}
	s.custom = cp.CustomProfile
	if s.custom != nil && s.profile != "" {
		s.custom = nil
	}
	s.lastMessage = cp.LastMessage
	s.overflow = cp.TelegraphConfig
	s.mode = ModeChat
	if cp.Mode != "" {
		s.mode = Mode(cp.Mode)
	}
}
