package sim

import (
	"errors"
	"fmt"
)

// ErrInvalidPriority is returned when a caller requests metadata for a
// priority level outside 1..5. This is always a programming or data error;
// it is propagated, never silently clamped.
var ErrInvalidPriority = errors.New("priority level must be in 1..5")

// ErrNoEncounters signals an empty input batch. The aggregator still
// produces a valid zero report; callers may treat this as a failure upstream.
var ErrNoEncounters = errors.New("no encounters to simulate")

// ConfigurationError wraps a fatal configuration problem (missing or
// malformed priority catalog or triage rules). The process cannot produce
// valid priorities without its configuration, so these fail fast at first use.
type ConfigurationError struct {
	Source string // file path or "defaults"
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// HorizonDefectError reports a run that reached its computed horizon with
// unserved patients. A too-short horizon is a correctness bug in horizon
// computation, not expected behavior, so it surfaces as a hard error.
type HorizonDefectError struct {
	Completed  int
	Total      int
	HorizonMin float64
}

func (e *HorizonDefectError) Error() string {
	return fmt.Sprintf("horizon defect: %d of %d patients completed within %.1f min horizon",
		e.Completed, e.Total, e.HorizonMin)
}
