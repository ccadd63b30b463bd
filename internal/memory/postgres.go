package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists user memories in PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

var _ Backend = (*PostgresBackend)(nil)

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_memories (
			user_id TEXT PRIMARY KEY,
			preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
			last_interaction TIMESTAMPTZ NOT NULL,
			total_messages INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			user_id TEXT NOT NULL REFERENCES user_memories(user_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_memories_last_interaction ON user_memories (last_interaction);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresBackend) Save(ctx context.Context, m UserMemory) error {
	prefs, err := encodePreferences(m.Preferences)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO user_memories (user_id, preferences, last_interaction, total_messages)
		 VALUES ($1, $2::jsonb, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
			preferences=EXCLUDED.preferences,
			last_interaction=EXCLUDED.last_interaction,
			total_messages=EXCLUDED.total_messages`,
		m.UserID,
		prefs,
		m.LastInteraction,
		m.TotalMessages,
	)
	if err != nil {
		return fmt.Errorf("upsert user memory: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE user_id=$1`, m.UserID); err != nil {
		return fmt.Errorf("delete prior messages: %w", err)
	}

	if len(m.Messages) > 0 {
		batch := &pgx.Batch{}
		for i, msg := range m.Messages {
			batch.Queue(
				`INSERT INTO chat_messages (user_id, seq, id, role, content, message_type, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.UserID, i, msg.ID, string(msg.Role), msg.Content, msg.MessageType, msg.Timestamp,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresBackend) Load(ctx context.Context, userID string) (UserMemory, error) {
	m := UserMemory{UserID: userID}
	var prefs string
	err := s.pool.QueryRow(ctx,
		`SELECT preferences::text, last_interaction, total_messages
		   FROM user_memories WHERE user_id=$1`,
		userID,
	).Scan(&prefs, &m.LastInteraction, &m.TotalMessages)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserMemory{}, ErrNotFound
		}
		return UserMemory{}, fmt.Errorf("load user memory: %w", err)
	}
	m.LastInteraction = m.LastInteraction.UTC()
	if m.Preferences, err = decodePreferences(prefs); err != nil {
		return UserMemory{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, message_type, created_at
		   FROM chat_messages WHERE user_id=$1 ORDER BY seq ASC`,
		userID,
	)
	if err != nil {
		return UserMemory{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	m.Messages = []ChatMessage{}
	for rows.Next() {
		var (
			msg  ChatMessage
			role string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.MessageType, &msg.Timestamp); err != nil {
			return UserMemory{}, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = Role(role)
		msg.Timestamp = msg.Timestamp.UTC()
		m.Messages = append(m.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return UserMemory{}, fmt.Errorf("iterate message rows: %w", err)
	}
	return m, nil
}

func (s *PostgresBackend) Delete(ctx context.Context, userID string) error {
	// chat_messages rows go with the parent via ON DELETE CASCADE.
	if _, err := s.pool.Exec(ctx, `DELETE FROM user_memories WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete user memory: %w", err)
	}
	return nil
}

func (s *PostgresBackend) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_memories ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect user ids: %w", err)
	}
	return users, nil
}

func (s *PostgresBackend) Close() error {
	s.pool.Close()
	return nil
}
