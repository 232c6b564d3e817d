package sim

import "math"

// Horizon defaults. MaxServiceCap is a hard upper bound on any single
// service duration, used to bound the worst case; slack absorbs estimation
// error from policy-supplied service times.
const (
	DefaultMaxServiceCapMin = 240.0
	DefaultHorizonSlackMin  = 60.0
)

// ComputeHorizon returns the conservative horizon in minutes:
//
//	lastArrival + ceil(n / servers) * maxServiceCap + slack
//
// Every queued patient is guaranteed to finish within this bound: even if
// all n patients arrive at the last arrival instant and every service takes
// the single-service cap, the pool drains in ceil(n/servers) rounds. The cap
// is raised to the largest observed service estimate so unusually long
// encounters cannot outrun it.
func ComputeHorizon(encounters []*Encounter, servers int, maxServiceCapMin, slackMin float64) float64 {
	if len(encounters) == 0 || servers < 1 {
		return 0
	}
	lastArrival := 0.0
	maxService := 0.0
	for _, enc := range encounters {
		lastArrival = max(lastArrival, enc.ArrivalMin)
		maxService = max(maxService, enc.ServiceMin)
	}
	serviceCap := max(maxServiceCapMin, maxService)
	rounds := math.Ceil(float64(len(encounters)) / float64(servers))
	return lastArrival + rounds*serviceCap + slackMin
}
