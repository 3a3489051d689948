package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/chatrelay/internal/personas"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

// Manager owns the table of live sessions and their persistence.
type Manager struct {
	store    store.Store
	personas *personas.Registry
	backends *providers.Registry

	mu       sync.Mutex
	sessions map[store.Key]*Session
}

func NewManager(st store.Store, p *personas.Registry, b *providers.Registry) *Manager {
	return &Manager{
		store:    st,
		personas: p,
		backends: b,
		sessions: make(map[store.Key]*Session),
	}
}

// Get returns the live session for (chat, user), restoring it from the store
// or creating a fresh one on first use. An unreadable checkpoint is logged and
// replaced by a fresh session.
func (m *Manager) Get(ctx context.Context, chatID, userID int64) (*Session, error) {
	key := store.Key{ChatID: chatID, UserID: userID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	s := newSession(key, m.personas, m.backends)
	if m.store != nil {
		cp, err := m.store.Load(ctx, chatID, userID)
		switch {
		case err == nil:
			s.restore(cp)
		case errors.Is(err, store.ErrNotFound):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			slog.Warn("sessions: checkpoint unreadable, starting fresh", "chat_id", chatID, "user_id", userID, "error", err)
		}
	}
	m.sessions[key] = s
	return s, nil
}

// Reset resets the session for (chat, user), keeping its backend selection.
func (m *Manager) Reset(ctx context.Context, chatID, userID int64) (*Session, error) {
	s, err := m.Get(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	s.Reset()
	return s, nil
}

// Persist writes the session's checkpoint to the store.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	if m.store == nil {
		return nil
	}
	k := s.Key()
	if err := m.store.Save(ctx, k.ChatID, k.UserID, s.Checkpoint()); err != nil {
		return fmt.Errorf("persist %s: %w", k, err)
	}
	return nil
}

// FlushAll persists every live session.
func (m *Manager) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := m.Persist(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the checkpoint of (chat, user): the live state if loaded,
// otherwise the stored one.
func (m *Manager) Snapshot(ctx context.Context, chatID, userID int64) (*store.Checkpoint, error) {
	key := store.Key{ChatID: chatID, UserID: userID}
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		return s.Checkpoint(), nil
	}
	if m.store == nil {
		return nil, store.ErrNotFound
	}
	return m.store.Load(ctx, chatID, userID)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
