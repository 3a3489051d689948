// Package banlist keeps the set of user ids and usernames the relay ignores,
// persisted as a JSON array of strings.
package banlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
)

// List is a persisted ban list. Safe for concurrent use.
type List struct {
	path string

	mu      sync.RWMutex
	entries []string
}

// Load reads the list at path. A missing file yields an empty list; an
// unreadable one is logged and treated as empty.
func Load(path string) *List {
	l := &List{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("banlist: read failed", "path", path, "error", err)
		}
		return l
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		slog.Warn("banlist: parse failed", "path", path, "error", err)
		l.entries = nil
	}
	return l
}

// Add bans id and persists the list.
func (l *List) Add(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.entries, id) {
		l.entries = append(l.entries, id)
	}
	return l.save()
}

// Remove lifts the ban on id and persists the list.
func (l *List) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = slices.DeleteFunc(l.entries, func(e string) bool { return e == id })
	return l.save()
}

// IsBanned reports whether the user id or the username is banned.
func (l *List) IsBanned(userID int64, username string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if slices.Contains(l.entries, strconv.FormatInt(userID, 10)) {
		return true
	}
	return username != "" && slices.Contains(l.entries, username)
}

// Entries returns a copy of the list.
func (l *List) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

func (l *List) save() error {
	if l.path == "" {
		return nil
	}
	entries := l.entries
	if entries == nil {
		entries = []string{}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("banlist: marshal: %w", err)
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("banlist: %w", err)
		}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("banlist: write: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("banlist: rename: %w", err)
	}
	return nil
}
