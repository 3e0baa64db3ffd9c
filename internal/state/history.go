package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/skellig/convoke/pkg/models"
)

// CycleRecord is one persisted orchestration cycle.
type CycleRecord struct {
	RequestID   string        `json:"request_id"`
	RequestText string        `json:"request_text"`
	Strategy    string        `json:"strategy"`
	Summary     string        `json:"summary"`
	Confidence  float64       `json:"confidence"`
	Attempted   int           `json:"attempted"`
	Succeeded   int           `json:"succeeded"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// OutcomeRecord is one persisted worker outcome within a cycle.
type OutcomeRecord struct {
	RequestID    string        `json:"request_id"`
	WorkerID     string        `json:"worker_id"`
	Capabilities []string      `json:"capabilities"`
	Success      bool          `json:"success"`
	TimedOut     bool          `json:"timed_out"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
}

// RecordResult persists one coordination result and its outcomes.
func (db *DB) RecordResult(req models.TaskRequest, result *models.CoordinationResult) error {
	if result == nil {
		return fmt.Errorf("record result: nil result")
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO cycles
			(request_id, request_text, strategy, summary, confidence, attempted, succeeded, duration_ms, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.RequestID,
			req.Text,
			string(result.Strategy),
			result.Summary,
			result.Confidence,
			result.Attempted,
			len(result.Provenance),
			result.Duration.Milliseconds(),
			formatTime(result.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}

		// Replace outcomes on re-record of the same request ID.
		if _, err := tx.Exec(`DELETE FROM outcomes WHERE request_id = ?`, result.RequestID); err != nil {
			return fmt.Errorf("clear outcomes: %w", err)
		}

		insert := func(o models.WorkerOutcome) error {
			caps := make([]string, len(o.Capabilities))
			for i, c := range o.Capabilities {
				caps[i] = string(c)
			}
			_, err := tx.Exec(`
				INSERT INTO outcomes
				(request_id, worker_id, capabilities, success, timed_out, latency_ms, error)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				result.RequestID,
				o.WorkerID,
				strings.Join(caps, ","),
				o.Success,
				o.TimedOut,
				o.Latency.Milliseconds(),
				o.Err,
			)
			return err
		}

		for _, o := range result.Provenance {
			if err := insert(o); err != nil {
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
		for _, o := range result.Failures {
			if err := insert(o); err != nil {
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
		return nil
	})
}

// RecentCycles returns the most recent cycles, newest first.
func (db *DB) RecentCycles(limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(`
		SELECT request_id, request_text, strategy, summary, confidence, attempted, succeeded, duration_ms, completed_at
		FROM cycles
		ORDER BY completed_at DESC, request_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetCycle returns one cycle and its outcomes.
func (db *DB) GetCycle(requestID string) (*CycleRecord, []OutcomeRecord, error) {
	row := db.QueryRow(`
		SELECT request_id, request_text, strategy, summary, confidence, attempted, succeeded, duration_ms, completed_at
		FROM cycles WHERE request_id = ?
	`, requestID)

	rec, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("cycle %q not found", requestID)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.Query(`
		SELECT request_id, worker_id, capabilities, success, timed_out, latency_ms, error
		FROM outcomes WHERE request_id = ? ORDER BY worker_id
	`, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var caps string
		var errStr sql.NullString
		var latencyMs int64
		if err := rows.Scan(&o.RequestID, &o.WorkerID, &caps, &o.Success, &o.TimedOut, &latencyMs, &errStr); err != nil {
			return nil, nil, fmt.Errorf("scan outcome: %w", err)
		}
		if caps != "" {
			o.Capabilities = strings.Split(caps, ",")
		}
		o.Latency = time.Duration(latencyMs) * time.Millisecond
		o.Error = errStr.String
		outcomes = append(outcomes, o)
	}
	return &rec, outcomes, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (CycleRecord, error) {
	var rec CycleRecord
	var durationMs int64
	var completedAt string
	err := s.Scan(
		&rec.RequestID,
		&rec.RequestText,
		&rec.Strategy,
		&rec.Summary,
		&rec.Confidence,
		&rec.Attempted,
		&rec.Succeeded,
		&durationMs,
		&completedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	if t, err := parseTime(completedAt); err == nil {
		rec.CompletedAt = t
	}
	return rec, nil
}
