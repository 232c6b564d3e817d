package sim

import (
	"fmt"
	"math/rand"
)

// TriagePolicy assigns a clinical urgency to an encounter. The three methods
// are the entire contract between the engine and any decision strategy; new
// strategies (e.g. a different model backend) only need to implement them.
//
// AssignPriority MUST always return a valid level in 1..5 — implementations
// that cannot decide resolve to a defined default rather than failing. The
// Decision value carries the trace for telemetry; implementations perform no
// I/O of their own.
type TriagePolicy interface {
	AssignPriority(enc *Encounter) (int, Decision)
	PriorityInfo(level int) (PriorityInfo, error)
	// EstimateServiceMin suggests a service duration for the encounter at
	// the given priority. ok=false means no suggestion; callers then use
	// the encounter's own service estimate.
	EstimateServiceMin(enc *Encounter, priority int) (float64, bool)
}

// Policy names accepted by NewTriagePolicy. Empty string defaults to the
// rule-based policy.
const (
	PolicyRules = "rules"
	PolicyAgent = "agent"
)

var validTriagePolicies = map[string]bool{
	"":          true,
	PolicyRules: true,
	PolicyAgent: true,
}

// IsValidTriagePolicy reports whether name is a recognized policy name.
func IsValidTriagePolicy(name string) bool {
	return validTriagePolicies[name]
}

// NewTriagePolicy creates a TriagePolicy by name. The agent policy always
// wraps a rule-based fallback built from the same catalog, config and RNG,
// so its fallback behavior matches a standalone rules policy with the same
// seed.
func NewTriagePolicy(name string, catalog *Catalog, cfg *TriageConfig, agentCfg AgentConfig, rng *rand.Rand) (TriagePolicy, error) {
	if !IsValidTriagePolicy(name) {
		return nil, fmt.Errorf("unknown triage policy %q", name)
	}
	switch name {
	case "", PolicyRules:
		return NewRuleBasedPolicy(catalog, cfg, rng), nil
	case PolicyAgent:
		return NewAgentPolicy(agentCfg, NewRuleBasedPolicy(catalog, cfg, rng)), nil
	default:
		return nil, fmt.Errorf("unhandled triage policy %q", name)
	}
}
