package sim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Decision is the trace of one triage assignment. Policies return it
// alongside the priority instead of performing I/O themselves; a separate
// TelemetryWriter consumes it. This keeps decision-making free of side
// effects and makes the fallback path visible to tests.
type Decision struct {
	Policy         string  // "rules" or "agent"
	Model          string  // model identity (agent only)
	EncounterClass string
	Reason         string
	Rule           string  // matched rule for the rules policy, e.g. "keyword:life_threat"
	ModelPriority  int     // raw priority from the model; 0 when absent
	FinalPriority  int     // the priority actually returned
	ServiceMin     float64 // model-suggested service minutes; valid when HasServiceMin
	HasServiceMin  bool
	ParseOutcome   string // "direct", "json-substring", "pre-parsed", "mock", "error" or ""
	HTTPMillis     int64  // last HTTP round-trip; 0 when no call was made
	TotalMillis    int64  // wall-clock for the whole assignment
	Attempts       int    // HTTP attempts made (agent only)
	FellBack       bool   // true when the rule-based fallback produced the priority
	Explanation    string // model-provided explanation text, if any
	Err            string // final error text on the failure path
}

// telemetryRecord is the JSONL on-disk schema. One object per line,
// append-only. Field names are part of the external telemetry contract.
type telemetryRecord struct {
	TS             int64    `json:"ts"`
	RunID          string   `json:"run_id"`
	Policy         string   `json:"policy"`
	Model          string   `json:"model,omitempty"`
	EncounterClass string   `json:"encounter_class"`
	Reason         string   `json:"reason"`
	Rule           string   `json:"rule,omitempty"`
	PriorityModel  *int     `json:"priority_model"`
	PriorityFinal  int      `json:"priority_final"`
	ServiceMin     *float64 `json:"service_min_model"`
	HTTPMillis     int64    `json:"http_ms"`
	TotalMillis    int64    `json:"total_ms"`
	Attempts       int      `json:"attempts"`
	Parse          string   `json:"parse"`
	FellBack       bool     `json:"fell_back"`
	Explanation    string   `json:"explanation,omitempty"`
	Err            string   `json:"error,omitempty"`
}

// TelemetryWriter appends one JSON line per triage decision to a file.
// Write failures are logged and swallowed: telemetry must never affect the
// returned priority. A nil writer is valid and records nothing.
type TelemetryWriter struct {
	path  string
	runID string
	mu    sync.Mutex
}

// NewTelemetryWriter creates a writer for the given path, or nil when the
// path is empty (telemetry disabled).
func NewTelemetryWriter(path string) *TelemetryWriter {
	if path == "" {
		return nil
	}
	return &TelemetryWriter{path: path, runID: uuid.NewString()}
}

// RunID returns the identifier stamped on every record from this writer.
func (w *TelemetryWriter) RunID() string {
	if w == nil {
		return ""
	}
	return w.runID
}

// Record appends one decision to the telemetry file.
func (w *TelemetryWriter) Record(d Decision) {
	if w == nil {
		return
	}
	rec := telemetryRecord{
		TS:             time.Now().UnixMilli(),
		RunID:          w.runID,
		Policy:         d.Policy,
		Model:          d.Model,
		EncounterClass: d.EncounterClass,
		Reason:         d.Reason,
		Rule:           d.Rule,
		PriorityFinal:  d.FinalPriority,
		HTTPMillis:     d.HTTPMillis,
		TotalMillis:    d.TotalMillis,
		Attempts:       d.Attempts,
		Parse:          d.ParseOutcome,
		FellBack:       d.FellBack,
		Explanation:    d.Explanation,
		Err:            d.Err,
	}
	if d.ModelPriority != 0 {
		rec.PriorityModel = &d.ModelPriority
	}
	if d.HasServiceMin {
		rec.ServiceMin = &d.ServiceMin
	}

	line, err := json.Marshal(rec)
	if err != nil {
		logrus.Errorf("telemetry: marshaling record: %v", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Errorf("telemetry: creating directory %s: %v", dir, err)
			return
		}
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logrus.Errorf("telemetry: opening %s: %v", w.path, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		logrus.Errorf("telemetry: writing %s: %v", w.path, err)
	}
}
