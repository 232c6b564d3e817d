package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// SimulationReport is the externally consumed run artifact: persisted to
// disk, diffed across runs, and rendered by plotting collaborators. It is
// derived entirely from the completion event list plus run parameters.
type SimulationReport struct {
	SimulationType      string                `json:"simulation_type"`
	Parameters          map[string]any        `json:"parameters"`
	Completed           int                   `json:"completed"`
	SystemPerformance   SystemPerformance     `json:"system_performance"`
	PriorityBreakdown   map[int]PriorityStats `json:"priority_breakdown"`
	Events              []CompletionEvent     `json:"events"`
	SimulationTimeHours float64               `json:"simulation_time_hours"`
}

// reportSimulationType labels the report format for downstream consumers.
const reportSimulationType = "priority_queue_triage"

// BuildReport assembles the full report from run results. It is a pure
// function: calling it twice with the same inputs yields identical reports.
func BuildReport(parameters map[string]any, results *Results, catalog *Catalog) *SimulationReport {
	events := []CompletionEvent{}
	completed := 0
	horizonMin := 0.0
	if results != nil {
		if results.Events != nil {
			events = results.Events
		}
		completed = results.Completed
		horizonMin = results.HorizonMin
	}
	return &SimulationReport{
		SimulationType:      reportSimulationType,
		Parameters:          parameters,
		Completed:           completed,
		SystemPerformance:   ComputeSystemMetrics(events),
		PriorityBreakdown:   AggregatePriorityBreakdown(events, catalog),
		Events:              events,
		SimulationTimeHours: round1(horizonMin / 60.0),
	}
}

// WriteJSON writes the report as indented JSON.
func (r *SimulationReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// SaveToFile writes the report JSON to path, truncating any existing file.
func (r *SimulationReport) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file %s: %w", path, err)
	}
	defer f.Close()
	return r.WriteJSON(f)
}
