// Package file implements store.Store as one JSON file per conversation:
// <dir>/<user_id>/<chat_id>.json.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

// SessionStore is a file-backed store.Store.
type SessionStore struct {
	dir string
}

func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

// Dir returns the storage root.
func (s *SessionStore) Dir() string { return s.dir }

func (s *SessionStore) path(chatID, userID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(userID, 10), strconv.FormatInt(chatID, 10)+".json")
}

func (s *SessionStore) Load(_ context.Context, chatID, userID int64) (*store.Checkpoint, error) {
	data, err := os.ReadFile(s.path(chatID, userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d/%d: %w", chatID, userID, err)
	}
	return &cp, nil
}

// Save persists a checkpoint atomically.
func (s *SessionStore) Save(_ context.Context, chatID, userID int64, cp *store.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "    ")
	if err != nil {
		return err
	}

	userDir := filepath.Join(s.dir, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return err
	}

	// Atomic write: temp file → rename
	tmpFile, err := os.CreateTemp(userDir, "checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.path(chatID, userID)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// List returns every stored key, ordered by user then chat.
func (s *SessionStore) List(_ context.Context) ([]store.Key, error) {
	users, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var keys []store.Key
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		userID, err := strconv.ParseInt(u.Name(), 10, 64)
		if err != nil {
			continue
		}

		chats, err := os.ReadDir(filepath.Join(s.dir, u.Name()))
		if err != nil {
			continue
		}
		for _, c := range chats {
			name := c.Name()
			if c.IsDir() || filepath.Ext(name) != ".json" {
				continue
			}
			chatID, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
			if err != nil {
				continue
			}
			keys = append(keys, store.Key{ChatID: chatID, UserID: userID})
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].ChatID < keys[j].ChatID
	})
	return keys, nil
}

func (s *SessionStore) Close() error { return nil }
