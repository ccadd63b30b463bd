package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	sqliteSchemaVersion = 1
	sqliteBusyTimeoutMS = 5000
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS user_memories (
		user_id          TEXT    PRIMARY KEY,
		preferences      TEXT    NOT NULL DEFAULT '{}',
		last_interaction INTEGER NOT NULL,
		total_messages   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		user_id      TEXT    NOT NULL REFERENCES user_memories(user_id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		id           TEXT    NOT NULL DEFAULT '',
		role         TEXT    NOT NULL,
		content      TEXT    NOT NULL,
		message_type TEXT    NOT NULL DEFAULT 'text',
		created_at   INTEGER NOT NULL,
		PRIMARY KEY (user_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_memories_last_interaction ON user_memories(last_interaction)`,
}

// SQLiteBackend stores user memories in a single SQLite database.
// Timestamps are stored as Unix nanoseconds so records round-trip exactly.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLiteBackend opens (creating if needed) the database at path and
// migrates the schema. SQLite serialises writers, so the pool is pinned to a
// single connection.
func OpenSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMS),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", sqliteSchemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Save(ctx context.Context, m UserMemory) error {
	prefs, err := encodePreferences(m.Preferences)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_memories (user_id, preferences, last_interaction, total_messages)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			preferences=excluded.preferences,
			last_interaction=excluded.last_interaction,
			total_messages=excluded.total_messages`,
		m.UserID, prefs, m.LastInteraction.UnixNano(), m.TotalMessages,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert user memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE user_id = ?", m.UserID); err != nil {
		return fmt.Errorf("sqlite: delete prior messages: %w", err)
	}

	for i, msg := range m.Messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (user_id, seq, id, role, content, message_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.UserID, i, msg.ID, string(msg.Role), msg.Content, msg.MessageType, msg.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, userID string) (UserMemory, error) {
	var (
		m      = UserMemory{UserID: userID}
		prefs  string
		lastNS int64
	)
	err := b.db.QueryRowContext(ctx,
		"SELECT preferences, last_interaction, total_messages FROM user_memories WHERE user_id = ?",
		userID,
	).Scan(&prefs, &lastNS, &m.TotalMessages)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserMemory{}, ErrNotFound
		}
		return UserMemory{}, fmt.Errorf("sqlite: load user memory: %w", err)
	}
	m.LastInteraction = time.Unix(0, lastNS).UTC()
	m.Preferences, err = decodePreferences(prefs)
	if err != nil {
		return UserMemory{}, fmt.Errorf("sqlite: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, role, content, message_type, created_at
		FROM chat_messages
		WHERE user_id = ?
		ORDER BY seq ASC`,
		userID,
	)
	if err != nil {
		return UserMemory{}, fmt.Errorf("sqlite: load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	m.Messages = []ChatMessage{}
	for rows.Next() {
		var (
			msg       ChatMessage
			role      string
			createdNS int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.MessageType, &createdNS); err != nil {
			return UserMemory{}, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msg.Role = Role(role)
		msg.Timestamp = time.Unix(0, createdNS).UTC()
		m.Messages = append(m.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return UserMemory{}, fmt.Errorf("sqlite: iterate messages: %w", err)
	}
	return m, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, userID string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("sqlite: delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM user_memories WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("sqlite: delete user memory: %w", err)
	}
	return tx.Commit()
}

func (b *SQLiteBackend) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT user_id FROM user_memories ORDER BY user_id ASC")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan user id: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate users: %w", err)
	}
	return users, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
