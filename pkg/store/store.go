package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned on lookup misses so handlers can answer 404
// instead of 500.
var ErrNotFound = errors.New("record not found")

// Store wraps the relational database holding models, conversations,
// messages and the append-only record logs.
type Store struct {
	db      *sql.DB
	dialect string
}

func NewStore(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// q rewrites ? placeholders to $N for postgres. mysql and sqlite take
// ? as-is.
func (s *Store) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS models (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE,
    capability_ranks TEXT NOT NULL,
    capability_vector TEXT NOT NULL,
    max_tokens INTEGER NOT NULL DEFAULT 8192,
    avg_latency_ms INTEGER NOT NULL DEFAULT 1000,
    cost_per_1k_usd DOUBLE PRECISION NOT NULL DEFAULT 0.01,
    stake_eth DOUBLE PRECISION NOT NULL DEFAULT 10.0,
    is_verified BOOLEAN NOT NULL DEFAULT FALSE,
    trust_score DOUBLE PRECISION NOT NULL DEFAULT 50.0,
    violations INTEGER NOT NULL DEFAULT 0,
    registration_time TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(255) PRIMARY KEY,
    username VARCHAR(255) NOT NULL UNIQUE,
    password VARCHAR(255) NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
)`,
	`CREATE TABLE IF NOT EXISTS conversations (
    id VARCHAR(255) PRIMARY KEY,
    conversation_summary TEXT,
    last_updated TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(255) PRIMARY KEY,
    message_type VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS conversation_message_links (
    id VARCHAR(255) PRIMARY KEY,
    conversation_id VARCHAR(255) NOT NULL,
    message_id VARCHAR(255) NOT NULL,
    timestamp TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS conversation_user_links (
    id VARCHAR(255) PRIMARY KEY,
    conversation_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS routing_records (
    id VARCHAR(255) PRIMARY KEY,
    model_id VARCHAR(255) NOT NULL,
    model_name VARCHAR(255) NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    user_query TEXT NOT NULL,
    selected_reason TEXT NOT NULL,
    block_number BIGINT NOT NULL,
    tx_hash VARCHAR(255) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS performance_records (
    id VARCHAR(255) PRIMARY KEY,
    model_id VARCHAR(255) NOT NULL,
    period VARCHAR(255) NOT NULL,
    avg_latency_ms INTEGER NOT NULL,
    success_rate DOUBLE PRECISION NOT NULL,
    uptime_percentage DOUBLE PRECISION NOT NULL,
    violations INTEGER NOT NULL DEFAULT 0,
    block_number BIGINT NOT NULL,
    tx_hash VARCHAR(255) NOT NULL,
    report_time TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS violation_records (
    id VARCHAR(255) PRIMARY KEY,
    model_id VARCHAR(255) NOT NULL,
    issue TEXT NOT NULL,
    severity VARCHAR(50) NOT NULL,
    slash_amount_eth DOUBLE PRECISION NOT NULL,
    block_number BIGINT NOT NULL,
    tx_hash VARCHAR(255) NOT NULL,
    report_time TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_cml_conversation_id ON conversation_message_links(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cul_conversation_id ON conversation_user_links(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_routing_model_id ON routing_records(model_id)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_model_id ON performance_records(model_id)`,
	`CREATE INDEX IF NOT EXISTS idx_violation_model_id ON violation_records(model_id)`,
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if s.dialect == "mysql" {
			// mysql lacks CREATE INDEX IF NOT EXISTS; duplicate index
			// errors are harmless here
			if strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") {
				stmt = strings.Replace(stmt, " IF NOT EXISTS", "", 1)
				if _, err := s.db.ExecContext(ctx, stmt); err != nil && !strings.Contains(err.Error(), "Duplicate") {
					return fmt.Errorf("failed to create index: %w", err)
				}
				continue
			}
			stmt = strings.ReplaceAll(stmt, "DOUBLE PRECISION", "DOUBLE")
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
