package sim

import (
	"hash/fnv"
	"math/rand"
)

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey, the same encounter list and a
// deterministic policy MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// SubsystemTriage is the RNG subsystem for triage decisions
	// (weighted keyword and class sampling in the rule-based policy).
	SubsystemTriage = "triage"

	// SubsystemWorkload is the RNG subsystem for workload generation
	// (Poisson arrival synthesis). Uses the master seed directly so
	// --seed reproduces the same arrival pattern across policy choices.
	SubsystemWorkload = "workload"
)

// PartitionedRNG provides deterministic, isolated RNG instances per
// subsystem, so that e.g. changing how many random draws triage makes does
// not perturb the synthesized arrival pattern.
//
// Derivation:
//   - SubsystemWorkload uses the master seed directly.
//   - All other subsystems use masterSeed XOR fnv1a64(subsystemName).
//
// Not safe for concurrent use; the engine is single-goroutine by design.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named
// subsystem. The same name always returns the same *rand.Rand instance.
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemWorkload {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name)
	}

	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
