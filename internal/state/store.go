// Package state persists run and stage status for the pipeline in SQLite.
package state

import (
	"github.com/leapstack-labs/listingwh/pkg/core"
)

// Type aliases so callers of this package do not need to import pkg/core.
type (
	// Store is an alias for core.Store.
	Store = core.Store

	// RunStatus is an alias for core.RunStatus.
	RunStatus = core.RunStatus

	// Run is an alias for core.Run.
	Run = core.Run

	// StageStatus is an alias for core.StageStatus.
	StageStatus = core.StageStatus

	// StageRun is an alias for core.StageRun.
	StageRun = core.StageRun
)

// Re-export status constants from core.
const (
	RunStatusRunning   = core.RunStatusRunning
	RunStatusSucceeded = core.RunStatusSucceeded
	RunStatusFailed    = core.RunStatusFailed

	StageStatusPending   = core.StageStatusPending
	StageStatusRunning   = core.StageStatusRunning
	StageStatusSucceeded = core.StageStatusSucceeded
	StageStatusFailed    = core.StageStatusFailed
)
