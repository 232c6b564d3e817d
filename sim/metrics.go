// Aggregates raw completion events into per-priority and overall breach and
// wait-time statistics. Aggregation is a pure function of the event list:
// applying it twice to the same input yields identical reports.

package sim

import (
	"fmt"
	"math"
	"sort"
)

// SystemPerformance holds the overall statistics computed over all events
// ungrouped.
type SystemPerformance struct {
	TotalPatients            int     `json:"total_patients"`
	OverallBreachRatePercent float64 `json:"overall_breach_rate_percent"`
	OverallAvgWaitMin        float64 `json:"overall_avg_wait_min"`
	OverallP95WaitMin        float64 `json:"overall_p95_wait_min"`
}

// PriorityStats holds the per-priority breakdown entry. Field names and
// nesting are part of the report compatibility surface.
type PriorityStats struct {
	Name              string  `json:"name"`
	TargetMaxWaitMin  float64 `json:"target_max_wait_min"`
	Patients          int     `json:"patients"`
	AvgWaitMin        float64 `json:"avg_wait_min"`
	P95WaitMin        float64 `json:"p95_wait_min"`
	BreachRatePercent float64 `json:"breach_rate_percent"`
	Breaches          int     `json:"breaches"`
}

// CalculatePercentile returns the p-th percentile of data using linear
// interpolation between the two nearest ranks. The input need not be
// sorted. Returns 0 for an empty list.
func CalculatePercentile(data []float64, p float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, data)
	sort.Float64s(sorted)

	rank := p / 100.0 * float64(n-1)
	lowerIdx := int(math.Floor(rank))
	upperIdx := int(math.Ceil(rank))
	if lowerIdx == upperIdx || upperIdx >= n {
		return sorted[lowerIdx]
	}
	return sorted[lowerIdx] + (sorted[upperIdx]-sorted[lowerIdx])*(rank-float64(lowerIdx))
}

// CalculateMean returns the arithmetic mean of data, or 0 for an empty list.
func CalculateMean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// round1 rounds to one decimal place, the report's rounding convention.
func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// ComputeSystemMetrics computes the overall statistics across all events.
// An empty event list yields zero counts and 0.0 rates, never NaN.
func ComputeSystemMetrics(events []CompletionEvent) SystemPerformance {
	if len(events) == 0 {
		return SystemPerformance{}
	}
	waits := make([]float64, len(events))
	breaches := 0
	for i, ev := range events {
		waits[i] = ev.WaitMin
		if ev.Breached() {
			breaches++
		}
	}
	return SystemPerformance{
		TotalPatients:            len(events),
		OverallBreachRatePercent: round1(float64(breaches) / float64(len(events)) * 100),
		OverallAvgWaitMin:        round1(CalculateMean(waits)),
		OverallP95WaitMin:        round1(CalculatePercentile(waits, 95)),
	}
}

// AggregatePriorityBreakdown groups events by priority and computes the
// per-group statistics. Priorities with zero events are omitted. The
// catalog supplies display names and wait targets; when a level is missing
// from the catalog the target is derived from the events themselves.
func AggregatePriorityBreakdown(events []CompletionEvent, catalog *Catalog) map[int]PriorityStats {
	breakdown := make(map[int]PriorityStats)
	if len(events) == 0 {
		return breakdown
	}

	byPriority := make(map[int][]CompletionEvent)
	for _, ev := range events {
		byPriority[ev.Priority] = append(byPriority[ev.Priority], ev)
	}

	for priority, group := range byPriority {
		waits := make([]float64, len(group))
		breaches := 0
		maxTarget := 0.0
		for i, ev := range group {
			waits[i] = ev.WaitMin
			maxTarget = max(maxTarget, ev.MaxWaitMin)
			if ev.Breached() {
				breaches++
			}
		}

		color := "Unknown"
		target := maxTarget
		if catalog != nil {
			if info, err := catalog.Get(priority); err == nil {
				color = info.Color
				target = info.MaxWaitMin
			}
		}

		breakdown[priority] = PriorityStats{
			Name:              fmt.Sprintf("P%d (%s)", priority, color),
			TargetMaxWaitMin:  target,
			Patients:          len(group),
			AvgWaitMin:        round1(CalculateMean(waits)),
			P95WaitMin:        round1(CalculatePercentile(waits, 95)),
			BreachRatePercent: round1(float64(breaches) / float64(len(group)) * 100),
			Breaches:          breaches,
		}
	}
	return breakdown
}
