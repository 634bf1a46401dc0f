// Package notify delivers stage failure notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Failure describes a stage that failed terminally within a run.
type Failure struct {
	Pipeline string    `json:"pipeline"`
	RunID    string    `json:"run_id"`
	Stage    string    `json:"stage"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// Notifier receives stage failure notifications.
type Notifier interface {
	Notify(ctx context.Context, f Failure) error
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify calls every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, f Failure) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes failures to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs f at error level.
func (n LogNotifier) Notify(ctx context.Context, f Failure) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "stage failed",
		slog.String("pipeline", f.Pipeline),
		slog.String("run_id", f.RunID),
		slog.String("stage", f.Stage),
		slog.Int("attempts", f.Attempts),
		slog.String("error", f.Error))
	return nil
}
