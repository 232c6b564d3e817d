package sim

import "fmt"

// Encounter is one patient visit record driving one simulated patient task.
// Encounters are produced by an external loader (see sim/workload) and are
// treated as read-only input by the engine, except that any pre-assigned
// Priority is ignored: the active triage policy always decides at arrival
// time so behavior stays uniform across policies.
type Encounter struct {
	PatientID         string  // unique patient identifier
	ArrivalMin        float64 // arrival time in minutes, relative to the first arrival in the batch
	ServiceMin        float64 // loader-supplied service duration estimate (minutes)
	EncounterClass    string  // e.g. "emergency", "wellness", "ambulatory"
	ReasonDescription string  // free-text chief complaint
	Priority          int     // optional pre-assigned priority; 0 = unassigned
	AgeYears          int     // patient age; 0 = unknown (treated as adult)
	PatientHistory    string  // optional free-text recent history blob
}

// Validate checks the fields the engine depends on. A malformed encounter
// fails the whole run rather than being silently skipped, since dropping
// patients corrupts aggregate statistics.
func (e *Encounter) Validate() error {
	if e.PatientID == "" {
		return fmt.Errorf("encounter has empty patient_id")
	}
	if e.ArrivalMin < 0 {
		return fmt.Errorf("encounter %s: arrival_min %.2f is negative", e.PatientID, e.ArrivalMin)
	}
	if e.ServiceMin <= 0 {
		return fmt.Errorf("encounter %s: service_min %.2f must be positive", e.PatientID, e.ServiceMin)
	}
	return nil
}

// CompletionEvent records one served patient. Exactly one is produced per
// patient that completes service before the horizon. Events are append-only
// and never mutated after emission.
type CompletionEvent struct {
	PatientID  string  `json:"patient_id"`
	Priority   int     `json:"priority"`
	ArrivalMin float64 `json:"arrival_min"`
	WaitMin    float64 `json:"wait_min"`
	ServiceMin float64 `json:"service_min"`
	MaxWaitMin float64 `json:"max_wait_min"`
}

// Breached reports whether the patient waited longer than the target
// maximum wait for their priority.
func (c *CompletionEvent) Breached() bool {
	return c.WaitMin > c.MaxWaitMin
}
