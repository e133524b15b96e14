package enrollment

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProvider reads enrollment and course content from the platform's
// primary database. The tables are owned by the enrollment and course
// services; this provider only queries them.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider wraps an existing pool. The caller keeps ownership of
// the pool's lifecycle.
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

// IsEntitled implements Provider.
func (p *PostgresProvider) IsEntitled(ctx context.Context, userID, courseID string) (bool, error) {
	var entitled bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM enrollments
		    WHERE user_id = $1 AND course_id = $2 AND status = 'active'
		)`,
		userID, courseID).Scan(&entitled)
	if err != nil {
		return false, fmt.Errorf("query enrollment: %w", err)
	}
	return entitled, nil
}

// ReferenceContent implements Provider. Lesson bodies are concatenated in
// curriculum order so the instruction payload is deterministic for a given
// course state.
func (p *PostgresProvider) ReferenceContent(ctx context.Context, courseID string) (string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT title, body FROM course_contents
		 WHERE course_id = $1 AND published = TRUE
		 ORDER BY position, id`,
		courseID)
	if err != nil {
		return "", fmt.Errorf("query course contents: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var title, body string
		if err := rows.Scan(&title, &body); err != nil {
			return "", fmt.Errorf("scan course content: %w", err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(body)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate course contents: %w", err)
	}
	if b.Len() == 0 {
		return "", ErrNoContent
	}
	return b.String(), nil
}

var _ Provider = (*PostgresProvider)(nil)
