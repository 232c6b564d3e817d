package sim

import (
	"fmt"
	"math/rand"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/sirupsen/logrus"
)

// RuleBasedPolicy assigns priorities deterministically (up to the injected
// RNG) from keyword matching and encounter-class sampling:
//
//  1. Keyword rules, in configured order: the free-text reason is scored
//     against each term with a fuzzy partial ratio, tolerating free-text
//     variance. On match the priority is a weighted random choice among the
//     rule's allowed levels.
//  2. Encounter-class sampling: the class maps to candidate levels sampled
//     proportionally to the catalog weights.
//  3. The configured default level.
//
// Service estimates come from a per-level complexity table scaled by
// pediatric and elderly multipliers, and supersede the encounter's own
// service time when present.
type RuleBasedPolicy struct {
	catalog *Catalog
	cfg     *TriageConfig
	rng     *rand.Rand
}

// NewRuleBasedPolicy creates a rule-based policy. The RNG is injected for
// reproducibility; use PartitionedRNG.ForSubsystem(SubsystemTriage).
func NewRuleBasedPolicy(catalog *Catalog, cfg *TriageConfig, rng *rand.Rand) *RuleBasedPolicy {
	return &RuleBasedPolicy{catalog: catalog, cfg: cfg, rng: rng}
}

// AssignPriority resolves a priority for the encounter. It always returns a
// level in 1..5.
func (p *RuleBasedPolicy) AssignPriority(enc *Encounter) (int, Decision) {
	dec := Decision{
		Policy:         PolicyRules,
		EncounterClass: enc.EncounterClass,
		Reason:         enc.ReasonDescription,
	}

	if level, rule, ok := p.matchKeywordRules(enc.ReasonDescription); ok {
		dec.Rule = "keyword:" + rule
		dec.FinalPriority = level
		logrus.Debugf("rules: %s matched %s -> P%d", enc.PatientID, dec.Rule, level)
		return level, dec
	}

	class := strings.ToLower(strings.TrimSpace(enc.EncounterClass))
	if levels, ok := p.cfg.ClassPriorityMap[class]; ok {
		level := weightedChoice(p.rng, levels, p.catalog.Weights(levels))
		dec.Rule = "class:" + class
		dec.FinalPriority = level
		logrus.Debugf("rules: %s sampled from class %q -> P%d", enc.PatientID, class, level)
		return level, dec
	}

	dec.Rule = "default"
	dec.FinalPriority = p.cfg.DefaultPriority
	return p.cfg.DefaultPriority, dec
}

// matchKeywordRules evaluates the ordered keyword groups against the reason
// text. First matching rule wins.
func (p *RuleBasedPolicy) matchKeywordRules(reason string) (level int, rule string, ok bool) {
	if reason == "" {
		return 0, "", false
	}
	text := strings.ToLower(reason)
	for _, r := range p.cfg.KeywordRules {
		for _, term := range r.Terms {
			if fuzzy.PartialRatio(strings.ToLower(term), text) >= r.Threshold {
				return weightedChoice(p.rng, r.Assign, p.catalog.Weights(r.Assign)), r.Name, true
			}
		}
	}
	return 0, "", false
}

// PriorityInfo delegates to the shared catalog.
func (p *RuleBasedPolicy) PriorityInfo(level int) (PriorityInfo, error) {
	return p.catalog.Get(level)
}

// EstimateServiceMin returns the table estimate for the priority, scaled by
// age band. ok=false when the table has no entry for the level.
func (p *RuleBasedPolicy) EstimateServiceMin(enc *Encounter, priority int) (float64, bool) {
	base, ok := p.cfg.ServiceMinByLevel[priority]
	if !ok {
		return 0, false
	}
	switch {
	case enc.AgeYears > 0 && enc.AgeYears < PediatricAgeMax:
		base *= p.cfg.PediatricFactor
	case enc.AgeYears > ElderlyAgeMin:
		base *= p.cfg.ElderlyFactor
	}
	return base, true
}

// weightedChoice picks one of levels with probability proportional to its
// weight. A single candidate is returned without consuming the RNG, so
// single-level rules stay deterministic regardless of draw order.
func weightedChoice(rng *rand.Rand, levels []int, weights []float64) int {
	if len(levels) == 1 {
		return levels[0]
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		// Degenerate weights: fall back to a uniform draw.
		return levels[rng.Intn(len(levels))]
	}
	target := rng.Float64() * total
	for i, w := range weights {
		target -= w
		if target < 0 {
			return levels[i]
		}
	}
	return levels[len(levels)-1]
}

// String identifies the policy in logs and report parameters.
func (p *RuleBasedPolicy) String() string {
	return fmt.Sprintf("rules(default=P%d, %d keyword rules)", p.cfg.DefaultPriority, len(p.cfg.KeywordRules))
}
