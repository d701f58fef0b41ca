package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Model is a registered LLM. CapabilityVector is always the engine's
// derived output for the current ranks, never set independently.
type Model struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CapabilityRanks  []int     `json:"capability_ranks"`
	CapabilityVector []float64 `json:"capability_vector"`
	MaxTokens        int       `json:"max_tokens"`
	AvgLatencyMS     int       `json:"avg_latency_ms"`
	CostPer1KUSD     float64   `json:"cost_per_1k_usd"`
	StakeETH         float64   `json:"stake_eth"`
	IsVerified       bool      `json:"is_verified"`
	TrustScore       float64   `json:"trust_score"`
	Violations       int       `json:"violations"`
	RegistrationTime time.Time `json:"registration_time"`
}

const modelColumns = `id, name, capability_ranks, capability_vector, max_tokens, avg_latency_ms,
cost_per_1k_usd, stake_eth, is_verified, trust_score, violations, registration_time`

func scanModel(row interface{ Scan(...interface{}) error }) (*Model, error) {
	var m Model
	var ranksJSON, vectorJSON string

	err := row.Scan(&m.ID, &m.Name, &ranksJSON, &vectorJSON, &m.MaxTokens, &m.AvgLatencyMS,
		&m.CostPer1KUSD, &m.StakeETH, &m.IsVerified, &m.TrustScore, &m.Violations, &m.RegistrationTime)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ranksJSON), &m.CapabilityRanks); err != nil {
		return nil, fmt.Errorf("failed to decode capability ranks: %w", err)
	}
	if err := json.Unmarshal([]byte(vectorJSON), &m.CapabilityVector); err != nil {
		return nil, fmt.Errorf("failed to decode capability vector: %w", err)
	}

	return &m, nil
}

// InsertModel persists a new model row.
func (s *Store) InsertModel(ctx context.Context, m *Model) error {
	ranksJSON, err := json.Marshal(m.CapabilityRanks)
	if err != nil {
		return fmt.Errorf("failed to encode capability ranks: %w", err)
	}
	vectorJSON, err := json.Marshal(m.CapabilityVector)
	if err != nil {
		return fmt.Errorf("failed to encode capability vector: %w", err)
	}

	query := s.q(`INSERT INTO models (` + modelColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.Name, string(ranksJSON), string(vectorJSON), m.MaxTokens, m.AvgLatencyMS,
		m.CostPer1KUSD, m.StakeETH, m.IsVerified, m.TrustScore, m.Violations, m.RegistrationTime)
	if err != nil {
		return fmt.Errorf("failed to insert model: %w", err)
	}
	return nil
}

// UpdateModelCapabilities replaces the rank row and derived vector for
// an existing model.
func (s *Store) UpdateModelCapabilities(ctx context.Context, name string, ranks []int, vector []float64) error {
	ranksJSON, err := json.Marshal(ranks)
	if err != nil {
		return fmt.Errorf("failed to encode capability ranks: %w", err)
	}
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode capability vector: %w", err)
	}

	query := s.q(`UPDATE models SET capability_ranks = ?, capability_vector = ? WHERE name = ?`)
	res, err := s.db.ExecContext(ctx, query, string(ranksJSON), string(vectorJSON), name)
	if err != nil {
		return fmt.Errorf("failed to update model capabilities: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetModelByID(ctx context.Context, id string) (*Model, error) {
	query := s.q(`SELECT ` + modelColumns + ` FROM models WHERE id = ?`)
	m, err := scanModel(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return m, nil
}

func (s *Store) GetModelByName(ctx context.Context, name string) (*Model, error) {
	query := s.q(`SELECT ` + modelColumns + ` FROM models WHERE name = ?`)
	m, err := scanModel(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return m, nil
}

// ListModels returns all models ordered by registration time.
func (s *Store) ListModels(ctx context.Context) ([]*Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models ORDER BY registration_time ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *Store) DeleteModelByName(ctx context.Context, name string) error {
	query := s.q(`DELETE FROM models WHERE name = ?`)
	res, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateModelTrust overwrites the mutable trust fields for a model.
func (s *Store) UpdateModelTrust(ctx context.Context, id string, trustScore float64, violations int, stakeETH float64) error {
	query := s.q(`UPDATE models SET trust_score = ?, violations = ?, stake_eth = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, trustScore, violations, stakeETH, id)
	if err != nil {
		return fmt.Errorf("failed to update trust score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetModelVerified(ctx context.Context, id string) error {
	query := s.q(`UPDATE models SET is_verified = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, true, id)
	if err != nil {
		return fmt.Errorf("failed to verify model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountModels(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM models`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count models: %w", err)
	}
	return n, nil
}

func (s *Store) CountVerifiedModels(ctx context.Context) (int, error) {
	var n int
	query := s.q(`SELECT COUNT(*) FROM models WHERE is_verified = ?`)
	err := s.db.QueryRowContext(ctx, query, true).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count verified models: %w", err)
	}
	return n, nil
}

// TopModelsByTrust returns up to limit models ordered by trust score
// descending.
func (s *Store) TopModelsByTrust(ctx context.Context, limit int) ([]*Model, error) {
	query := s.q(`SELECT ` + modelColumns + ` FROM models ORDER BY trust_score DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// User is a registered account. Only minimal fields exist; there is no
// authentication surface yet.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	IsActive bool   `json:"is_active"`
}

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	query := s.q(`INSERT INTO users (id, username, password, is_active) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Password, u.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	query := s.q(`SELECT id, username, password, is_active FROM users WHERE username = ?`)
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password, &u.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
