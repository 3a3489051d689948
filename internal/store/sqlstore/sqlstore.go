// Package sqlstore implements store.Store on a single SQL table. It supports
// SQLite (modernc.org/sqlite) and Postgres (pgx stdlib).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SessionStore is a SQL-backed store.Store.
type SessionStore struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with the named driver and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*SessionStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	case "postgres":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported session driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s, err := New(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and ensures the schema exists.
func New(ctx context.Context, db *sql.DB, driver string) (*SessionStore, error) {
	s := &SessionStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SessionStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, chat_id)
		)
	`)
	return err
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SessionStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SessionStore) Load(ctx context.Context, chatID, userID int64) (*store.Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT data FROM checkpoints WHERE user_id = ? AND chat_id = ?
	`), userID, chatID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var cp store.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d/%d: %w", chatID, userID, err)
	}
	return &cp, nil
}

func (s *SessionStore) Save(ctx context.Context, chatID, userID int64, cp *store.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO checkpoints (user_id, chat_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE
		SET data = excluded.data, updated_at = excluded.updated_at
	`), userID, chatID, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

func (s *SessionStore) List(ctx context.Context) ([]store.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, chat_id FROM checkpoints ORDER BY user_id, chat_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var keys []store.Key
	for rows.Next() {
		var k store.Key
		if err := rows.Scan(&k.UserID, &k.ChatID); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SessionStore) Close() error { return s.db.Close() }
