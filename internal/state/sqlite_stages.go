package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/leapstack-labs/listingwh/pkg/core"
)

// RecordStageRun inserts a stage run. ID and StartedAt are filled in when empty.
func (s *SQLiteStore) RecordStageRun(sr *core.StageRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if sr.ID == "" {
		sr.ID = generateID()
	}
	if sr.StartedAt.IsZero() {
		sr.StartedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO stage_runs (id, run_id, stage, status, attempts, rows_affected, started_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RunID, sr.Stage, string(sr.Status), sr.Attempts, sr.RowsAffected, sr.StartedAt, nullString(sr.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record stage run %s: %w", sr.Stage, err)
	}
	return nil
}

// UpdateStageRun sets the status and counters of a stage run. Terminal
// statuses also stamp completed_at.
func (s *SQLiteStore) UpdateStageRun(id string, status core.StageStatus, attempts int, rowsAffected int64, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var completedAt sql.NullTime
	if status.IsTerminal() {
		completedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	res, err := s.db.Exec(
		`UPDATE stage_runs SET status = ?, attempts = ?, rows_affected = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), attempts, rowsAffected, completedAt, nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update stage run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage run not found: %s", id)
	}
	return nil
}

// GetStageRunsForRun returns the stage runs of runID in start order.
func (s *SQLiteStore) GetStageRunsForRun(runID string) ([]*core.StageRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, stage, status, attempts, rows_affected, started_at, completed_at, error
		 FROM stage_runs WHERE run_id = ? ORDER BY started_at, stage`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*core.StageRun
	for rows.Next() {
		sr := &core.StageRun{}
		var status string
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Stage, &status, &sr.Attempts, &sr.RowsAffected,
			&sr.StartedAt, &completedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan stage run: %w", err)
		}
		sr.Status = core.StageStatus(status)
		if completedAt.Valid {
			sr.CompletedAt = &completedAt.Time
		}
		sr.Error = errMsg.String
		result = append(result, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get stage runs: %w", err)
	}
	return result, nil
}
