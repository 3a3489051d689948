package file

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strconv"

	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

// MigrateLegacy fans a legacy single-file store ({chat_id: {user_id: checkpoint}})
// out into dst and renames the legacy file to <path>.bak once every entry is in
// dst. Existing per-conversation files are newer and are left untouched. A failed
// save keeps the legacy file so the next start retries. Failures are logged,
// never returned.
// Returns the number of checkpoints written.
func MigrateLegacy(ctx context.Context, path string, dst store.Store) int {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("legacy sessions: read failed", "path", path, "error", err)
		}
		return 0
	}

	var legacy map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		slog.Warn("legacy sessions: decode failed", "path", path, "error", err)
		return 0
	}

	migrated, failed := 0, 0
	for chatKey, users := range legacy {
		chatID, err := strconv.ParseInt(chatKey, 10, 64)
		if err != nil {
			slog.Warn("legacy sessions: skipping chat", "chat", chatKey, "error", err)
			continue
		}
		for userKey, raw := range users {
			userID, err := strconv.ParseInt(userKey, 10, 64)
			if err != nil {
				slog.Warn("legacy sessions: skipping user", "chat_id", chatID, "user", userKey, "error", err)
				continue
			}

			var cp store.Checkpoint
			if err := json.Unmarshal(raw, &cp); err != nil {
				slog.Warn("legacy sessions: skipping checkpoint", "chat_id", chatID, "user_id", userID, "error", err)
				continue
			}
			cp.IsWorking = false

			if _, err := dst.Load(ctx, chatID, userID); err == nil {
				continue
			}
			if err := dst.Save(ctx, chatID, userID, &cp); err != nil {
				slog.Warn("legacy sessions: save failed", "chat_id", chatID, "user_id", userID, "error", err)
				failed++
				continue
			}
			migrated++
		}
	}

	if failed > 0 {
		slog.Warn("legacy sessions: migration incomplete, legacy file kept", "path", path, "migrated", migrated, "failed", failed)
		return migrated
	}
	if err := os.Rename(path, path+".bak"); err != nil {
		slog.Warn("legacy sessions: rename failed", "path", path, "error", err)
	}
	slog.Info("legacy sessions migrated", "path", path, "count", migrated)
	return migrated
}
