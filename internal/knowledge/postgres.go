package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS knowledge_entries (
	id         BIGSERIAL PRIMARY KEY,
	account_id TEXT        NOT NULL,
	text       TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS knowledge_entries_account_idx
	ON knowledge_entries (account_id, created_at DESC);
`

// PostgresStore keeps entries in a PostgreSQL table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the table if needed
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn cannot be empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create knowledge table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Save inserts text for accountID
func (s *PostgresStore) Save(ctx context.Context, accountID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text cannot be empty")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_entries (account_id, text) VALUES ($1, $2)`,
		accountID, text)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge entry: %w", err)
	}
	return nil
}

// Query returns the most recent entry matching any keyword of query, or the
// most recent entry when query has no keywords
func (s *PostgresStore) Query(ctx context.Context, accountID, query string) (string, error) {
	var row pgx.Row
	if words := Keywords(query); len(words) > 0 {
		patterns := make([]string, len(words))
		for i, w := range words {
			patterns[i] = "%" + w + "%"
		}
		row = s.pool.QueryRow(ctx,
			`SELECT text FROM knowledge_entries
			 WHERE account_id = $1 AND text ILIKE ANY($2)
			 ORDER BY created_at DESC LIMIT 1`,
			accountID, patterns)
	} else {
		row = s.pool.QueryRow(ctx,
			`SELECT text FROM knowledge_entries
			 WHERE account_id = $1
			 ORDER BY created_at DESC LIMIT 1`,
			accountID)
	}

	var text string
	if err := row.Scan(&text); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to query knowledge: %w", err)
	}
	return text, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
