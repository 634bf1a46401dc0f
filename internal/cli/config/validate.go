package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	intconfig "github.com/leapstack-labs/listingwh/internal/config"
	"github.com/leapstack-labs/listingwh/internal/warehouse"
)

// DefaultSchemaForType returns the default schema for a warehouse type.
// This is a convenience wrapper that delegates to the shared config function.
func DefaultSchemaForType(dbType string) string {
	return intconfig.DefaultSchemaForType(dbType)
}

// Validate checks that the pipeline, sources and notification settings are
// usable. The target is validated separately while loading.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.MaxParallelism < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_parallelism must be at least 1, got %d", c.Pipeline.MaxParallelism))
	}
	if c.Pipeline.Retries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retries must not be negative, got %d", c.Pipeline.Retries))
	}
	if c.Pipeline.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry_delay must not be negative, got %s", c.Pipeline.RetryDelay))
	}
	if _, err := warehouse.ParseJoinStrictness(c.Pipeline.JoinStrictness); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.join_strictness: %w", err))
	}

	for _, name := range slices.Sorted(maps.Keys(c.Sources.Files)) {
		if _, ok := warehouse.LookupDataset(name); !ok {
			errs = append(errs, fmt.Errorf("sources.files: unknown dataset %q (known: %v)", name, warehouse.DatasetNames()))
		}
	}

	if c.Notify.Retries < 0 {
		errs = append(errs, fmt.Errorf("notify.retries must not be negative, got %d", c.Notify.Retries))
	}

	return errors.Join(errs...)
}
