package workload

import (
	"fmt"
	"math/rand"

	"github.com/triage-sim/triage-sim/sim"
)

// AssignPoissonArrivals replaces the batch's arrival times with a Poisson
// process of the given rate: interarrival gaps are exponentially distributed
// with mean 1/ratePerMin, starting at minute zero. The encounter order is
// preserved. The RNG is injected for reproducibility; use
// PartitionedRNG.ForSubsystem(SubsystemWorkload).
func AssignPoissonArrivals(encounters []*sim.Encounter, ratePerMin float64, rng *rand.Rand) error {
	if ratePerMin <= 0 {
		return fmt.Errorf("poisson rate must be positive, got %.4f", ratePerMin)
	}
	clock := 0.0
	for i, enc := range encounters {
		if i > 0 {
			clock += rng.ExpFloat64() / ratePerMin
		}
		enc.ArrivalMin = clock
	}
	return nil
}
