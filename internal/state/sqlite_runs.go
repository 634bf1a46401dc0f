package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/listingwh/pkg/core"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const runColumns = `id, pipeline, triggered_by, status, started_at, completed_at, error`

// CreateRun creates a new running run for pipeline. It fails with
// core.ErrRunActive when another run of the pipeline is still running.
func (s *SQLiteStore) CreateRun(pipeline, trigger string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:        generateID(),
		Pipeline:  pipeline,
		Trigger:   trigger,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("pipeline", pipeline))

	res, err := s.db.Exec(
		`INSERT INTO runs (id, pipeline, triggered_by, status, started_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM runs WHERE pipeline = ? AND status = ?)`,
		run.ID, run.Pipeline, run.Trigger, string(run.Status), run.StartedAt,
		pipeline, string(core.RunStatusRunning),
	)
	if isConstraintViolation(err) {
		// Another process inserted its run between the check and the insert.
		return nil, core.ErrRunActive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if n == 0 {
		return nil, core.ErrRunActive
	}

	return run, nil
}

// isConstraintViolation reports whether err is a SQLite constraint failure,
// primary or extended code.
func isConstraintViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as completed with the given status.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetActiveRun returns the running run of pipeline, or nil if there is none.
func (s *SQLiteStore) GetActiveRun(pipeline string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRow(
		`SELECT `+runColumns+` FROM runs WHERE pipeline = ? AND status = ? ORDER BY started_at DESC LIMIT 1`,
		pipeline, string(core.RunStatusRunning),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// AbandonActiveRuns fails every running run of pipeline, along with its
// unfinished stages. It releases the run lock left behind by a crashed
// process and returns the number of runs released.
func (s *SQLiteStore) AbandonActiveRuns(pipeline, reason string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	running := string(core.RunStatusRunning)

	if _, err := tx.Exec(
		`UPDATE stage_runs SET status = ?, completed_at = ?, error = ?
		 WHERE status IN (?, ?) AND run_id IN (SELECT id FROM runs WHERE pipeline = ? AND status = ?)`,
		string(core.StageStatusFailed), now, nullString(reason),
		string(core.StageStatusPending), string(core.StageStatusRunning),
		pipeline, running,
	); err != nil {
		return 0, fmt.Errorf("failed to abandon stage runs: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE pipeline = ? AND status = ?`,
		string(core.RunStatusFailed), now, nullString(reason), pipeline, running,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to abandon runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("abandoned active runs", slog.String("pipeline", pipeline), slog.Int64("count", n))
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	run := &core.Run{}
	var status string
	var completedAt sql.NullTime
	var errMsg sql.NullString

	if err := row.Scan(&run.ID, &run.Pipeline, &run.Trigger, &status, &run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.Error = errMsg.String
	return run, nil
}
