// Package workload loads and prepares encounter batches for the simulator:
// a CSV loader with class filtering, arrival sorting/limiting and arrival
// re-basing, plus Poisson arrival synthesis for compressed-time runs.
package workload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/triage-sim/triage-sim/sim"
)

// LoadOptions controls encounter selection.
type LoadOptions struct {
	ClassFilter string // keep only this encounter class (case-insensitive); "" keeps all
	Limit       int    // keep at most this many encounters after sorting; 0 = no limit
}

// Required CSV columns. Optional columns: priority, age, patient_history.
var requiredColumns = []string{"patient_id", "arrival_min", "service_min", "encounter_class", "reason_description"}

// LoadEncounters reads an encounter batch from a CSV file with a header row.
// The result is filtered, sorted by arrival time, limited, and re-based so
// arrival_min is relative to the first arrival in the batch.
func LoadEncounters(path string, opts LoadOptions) ([]*sim.Encounter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening encounters file: %w", err)
	}
	defer f.Close()
	encounters, err := ReadEncounters(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Prepare(encounters, opts), nil
}

// ReadEncounters parses encounter rows from CSV data.
func ReadEncounters(r io.Reader) ([]*sim.Encounter, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var encounters []*sim.Encounter
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		field := func(name string) string {
			idx, ok := col[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		arrival, err := strconv.ParseFloat(field("arrival_min"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad arrival_min %q: %w", line, field("arrival_min"), err)
		}
		service, err := strconv.ParseFloat(field("service_min"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad service_min %q: %w", line, field("service_min"), err)
		}

		enc := &sim.Encounter{
			PatientID:         field("patient_id"),
			ArrivalMin:        arrival,
			ServiceMin:        service,
			EncounterClass:    field("encounter_class"),
			ReasonDescription: field("reason_description"),
			PatientHistory:    field("patient_history"),
		}
		if v := field("age"); v != "" {
			age, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad age %q: %w", line, v, err)
			}
			enc.AgeYears = age
		}
		if v := field("priority"); v != "" {
			priority, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad priority %q: %w", line, v, err)
			}
			enc.Priority = priority
		}
		encounters = append(encounters, enc)
	}
	return encounters, nil
}

// Prepare filters, sorts, limits and re-bases an encounter batch.
func Prepare(encounters []*sim.Encounter, opts LoadOptions) []*sim.Encounter {
	out := encounters
	if opts.ClassFilter != "" {
		want := strings.ToLower(opts.ClassFilter)
		filtered := make([]*sim.Encounter, 0, len(out))
		for _, enc := range out {
			if strings.ToLower(enc.EncounterClass) == want {
				filtered = append(filtered, enc)
			}
		}
		out = filtered
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ArrivalMin < out[j].ArrivalMin
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	// Re-base arrivals so the first arrival in the batch is minute zero.
	if len(out) > 0 && out[0].ArrivalMin > 0 {
		base := out[0].ArrivalMin
		for _, enc := range out {
			enc.ArrivalMin -= base
		}
	}

	logrus.Debugf("workload: prepared %d encounters (filter=%q, limit=%d)",
		len(out), opts.ClassFilter, opts.Limit)
	return out
}
