// Package core defines the shared language of the listingwh system.
//
// This package contains:
//   - Domain entities (Run, StageRun and their statuses)
//   - Service interfaces (Store)
//   - Configuration types (AdapterConfig, TargetConfig)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
