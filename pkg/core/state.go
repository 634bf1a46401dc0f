package core

import (
	"errors"
	"time"
)

// ErrRunActive is returned when a run is requested while another run is still active.
var ErrRunActive = errors.New("another run is already active")

// Store defines the interface for run state persistence.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(pipeline, trigger string) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetActiveRun(pipeline string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)
	AbandonActiveRuns(pipeline, reason string) (int64, error)

	// Stage run operations
	RecordStageRun(stageRun *StageRun) error
	UpdateStageRun(id string, status StageStatus, attempts int, rowsAffected int64, errMsg string) error
	GetStageRunsForRun(runID string) ([]*StageRun, error)
}

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents one execution of the stage graph.
type Run struct {
	ID          string
	Pipeline    string
	Trigger     string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// StageStatus represents the status of one stage within a run.
type StageStatus string

// Stage status constants.
const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
)

// IsTerminal reports whether the status can no longer change within a run.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusSucceeded || s == StageStatusFailed
}

// StageRun represents a single execution of a stage within a run.
type StageRun struct {
	ID           string
	RunID        string
	Stage        string
	Status       StageStatus
	Attempts     int
	RowsAffected int64
	StartedAt    time.Time
	CompletedAt  *time.Time
	Error        string
}
