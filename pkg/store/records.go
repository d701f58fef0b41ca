package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RoutingRecord, PerformanceRecord and ViolationRecord are append-only;
// rows are never updated after insertion.

type RoutingRecord struct {
	ID             string    `json:"id"`
	ModelID        string    `json:"model_id"`
	ModelName      string    `json:"model_name"`
	Timestamp      time.Time `json:"timestamp"`
	UserQuery      string    `json:"user_query"`
	SelectedReason string    `json:"selected_reason"`
	BlockNumber    int64     `json:"block_number"`
	TxHash         string    `json:"transaction_hash"`
}

type PerformanceRecord struct {
	ID               string    `json:"id"`
	ModelID          string    `json:"model_id"`
	Period           string    `json:"period"`
	AvgLatencyMS     int       `json:"avg_latency_ms"`
	SuccessRate      float64   `json:"success_rate"`
	UptimePercentage float64   `json:"uptime_percentage"`
	Violations       int       `json:"violations"`
	BlockNumber      int64     `json:"block_number"`
	TxHash           string    `json:"transaction_hash"`
	ReportTime       time.Time `json:"report_time"`
}

type ViolationRecord struct {
	ID             string    `json:"id"`
	ModelID        string    `json:"model_id"`
	Issue          string    `json:"issue"`
	Severity       string    `json:"severity"`
	SlashAmountETH float64   `json:"slash_amount_eth"`
	BlockNumber    int64     `json:"block_number"`
	TxHash         string    `json:"transaction_hash"`
	ReportTime     time.Time `json:"report_time"`
}

// AppendRoutingRecord assigns the next block number and inserts the
// record in one transaction, so concurrent appends never mint the same
// number.
func (s *Store) AppendRoutingRecord(ctx context.Context, r *RoutingRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM routing_records`).Scan(&r.BlockNumber); err != nil {
			return fmt.Errorf("failed to derive block number: %w", err)
		}
		r.BlockNumber++

		query := s.q(`INSERT INTO routing_records
(id, model_id, model_name, timestamp, user_query, selected_reason, block_number, tx_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.ModelID, r.ModelName, r.Timestamp, r.UserQuery, r.SelectedReason, r.BlockNumber, r.TxHash); err != nil {
			return fmt.Errorf("failed to insert routing record: %w", err)
		}
		return nil
	})
}

// RecentRoutingRecords returns the newest records first, up to limit.
func (s *Store) RecentRoutingRecords(ctx context.Context, limit int) ([]RoutingRecord, error) {
	query := s.q(`SELECT id, model_id, model_name, timestamp, user_query, selected_reason, block_number, tx_hash
FROM routing_records ORDER BY block_number DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing records: %w", err)
	}
	defer rows.Close()

	var records []RoutingRecord
	for rows.Next() {
		var r RoutingRecord
		if err := rows.Scan(&r.ID, &r.ModelID, &r.ModelName, &r.Timestamp, &r.UserQuery,
			&r.SelectedReason, &r.BlockNumber, &r.TxHash); err != nil {
			return nil, fmt.Errorf("failed to scan routing record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) CountRoutingRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routing_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count routing records: %w", err)
	}
	return n, nil
}

// CountRecentSelections counts how often a model appears in the newest
// window of routing records.
func (s *Store) CountRecentSelections(ctx context.Context, modelID string, window int) (int, error) {
	query := s.q(`SELECT COUNT(*) FROM (
SELECT model_id FROM routing_records ORDER BY block_number DESC LIMIT ?
) recent WHERE recent.model_id = ?`)

	var n int
	if err := s.db.QueryRowContext(ctx, query, window, modelID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count recent selections: %w", err)
	}
	return n, nil
}

// AppendPerformanceRecord assigns the block number inside the insert
// transaction, like AppendRoutingRecord.
func (s *Store) AppendPerformanceRecord(ctx context.Context, r *PerformanceRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM performance_records`).Scan(&r.BlockNumber); err != nil {
			return fmt.Errorf("failed to derive block number: %w", err)
		}
		r.BlockNumber++

		query := s.q(`INSERT INTO performance_records
(id, model_id, period, avg_latency_ms, success_rate, uptime_percentage, violations, block_number, tx_hash, report_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.ModelID, r.Period, r.AvgLatencyMS, r.SuccessRate, r.UptimePercentage,
			r.Violations, r.BlockNumber, r.TxHash, r.ReportTime); err != nil {
			return fmt.Errorf("failed to insert performance record: %w", err)
		}
		return nil
	})
}

// ListPerformanceRecords returns records newest first, optionally
// filtered by model id ("" means all).
func (s *Store) ListPerformanceRecords(ctx context.Context, modelID string, limit int) ([]PerformanceRecord, error) {
	query := `SELECT id, model_id, period, avg_latency_ms, success_rate, uptime_percentage, violations, block_number, tx_hash, report_time
FROM performance_records`
	args := []interface{}{}
	if modelID != "" {
		query += ` WHERE model_id = ?`
		args = append(args, modelID)
	}
	query += ` ORDER BY report_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list performance records: %w", err)
	}
	defer rows.Close()

	var records []PerformanceRecord
	for rows.Next() {
		var r PerformanceRecord
		if err := rows.Scan(&r.ID, &r.ModelID, &r.Period, &r.AvgLatencyMS, &r.SuccessRate,
			&r.UptimePercentage, &r.Violations, &r.BlockNumber, &r.TxHash, &r.ReportTime); err != nil {
			return nil, fmt.Errorf("failed to scan performance record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) CountPerformanceRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM performance_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count performance records: %w", err)
	}
	return n, nil
}

// AppendViolationRecord assigns the block number inside the insert
// transaction, like AppendRoutingRecord.
func (s *Store) AppendViolationRecord(ctx context.Context, r *ViolationRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM violation_records`).Scan(&r.BlockNumber); err != nil {
			return fmt.Errorf("failed to derive block number: %w", err)
		}
		r.BlockNumber++

		query := s.q(`INSERT INTO violation_records
(id, model_id, issue, severity, slash_amount_eth, block_number, tx_hash, report_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.ModelID, r.Issue, r.Severity, r.SlashAmountETH, r.BlockNumber, r.TxHash, r.ReportTime); err != nil {
			return fmt.Errorf("failed to insert violation record: %w", err)
		}
		return nil
	})
}

// ListViolationRecords returns records newest first, optionally
// filtered by model id ("" means all).
func (s *Store) ListViolationRecords(ctx context.Context, modelID string, limit int) ([]ViolationRecord, error) {
	query := `SELECT id, model_id, issue, severity, slash_amount_eth, block_number, tx_hash, report_time
FROM violation_records`
	args := []interface{}{}
	if modelID != "" {
		query += ` WHERE model_id = ?`
		args = append(args, modelID)
	}
	query += ` ORDER BY report_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violation records: %w", err)
	}
	defer rows.Close()

	var records []ViolationRecord
	for rows.Next() {
		var r ViolationRecord
		if err := rows.Scan(&r.ID, &r.ModelID, &r.Issue, &r.Severity, &r.SlashAmountETH,
			&r.BlockNumber, &r.TxHash, &r.ReportTime); err != nil {
			return nil, fmt.Errorf("failed to scan violation record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) CountViolationRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM violation_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count violation records: %w", err)
	}
	return n, nil
}
