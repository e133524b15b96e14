package transcript

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationsDDL = `
CREATE TABLE IF NOT EXISTS ai_conversations (
    id         UUID PRIMARY KEY,
    user_id    TEXT NOT NULL,
    course_id  TEXT NOT NULL,
    label      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ai_conversations_user
    ON ai_conversations (user_id, created_at DESC);
`

const messagesDDL = `
CREATE TABLE IF NOT EXISTS ai_messages (
    id              UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES ai_conversations (id) ON DELETE CASCADE,
    role            TEXT NOT NULL CHECK (role IN ('user', 'model')),
    content         TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ai_messages_conversation
    ON ai_messages (conversation_id, created_at);
`

// PostgresStore persists transcripts in PostgreSQL via a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given DSN and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The caller keeps ownership
// of the pool's lifecycle.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the transcript tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, ddl := range []string{conversationsDDL, messagesDDL} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply transcript schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateConversation implements Store.
func (s *PostgresStore) CreateConversation(ctx context.Context, userID, courseID, label string) (Conversation, error) {
	conv := Conversation{
		ID:       uuid.NewString(),
		UserID:   userID,
		CourseID: courseID,
		Label:    label,
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO ai_conversations (id, user_id, course_id, label)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		conv.ID, conv.UserID, conv.CourseID, conv.Label)
	if err := row.Scan(&conv.CreatedAt); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage implements Store.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, role Role, content string) (Message, error) {
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO ai_messages (id, conversation_id, role, content)
		 SELECT $1, c.id, $3, $4 FROM ai_conversations c WHERE c.id = $2
		 RETURNING created_at`,
		msg.ID, conversationID, string(role), content)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrConversationNotFound
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

var _ Store = (*PostgresStore)(nil)
