package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeywordRule is one ordered keyword group for rule-based triage. Rules are
// evaluated in slice order and the first matching rule wins.
type KeywordRule struct {
	Name      string   `yaml:"name"`
	Terms     []string `yaml:"terms"`
	Threshold int      `yaml:"threshold"` // fuzzy partial-ratio score 1..100
	Assign    []int    `yaml:"assign"`    // candidate priority levels on match
}

// AgentOptions are the generation options forwarded to the remote triage
// model in the request body.
type AgentOptions struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	TopP        float64 `yaml:"top_p" json:"top_p"`
	NumPredict  int     `yaml:"num_predict" json:"num_predict"`
}

// TriageConfig holds the rule-based policy configuration, loadable from a
// YAML file. The same config also supplies the service-time table the agent
// policy falls back to.
type TriageConfig struct {
	DefaultPriority   int              `yaml:"default_priority"`
	KeywordRules      []KeywordRule    `yaml:"keyword_rules"`
	ClassPriorityMap  map[string][]int `yaml:"class_priority_map"`
	ServiceMinByLevel map[int]float64  `yaml:"service_min_by_level"`
	PediatricFactor   float64          `yaml:"pediatric_factor"` // multiplier for age < PediatricAgeMax
	ElderlyFactor     float64          `yaml:"elderly_factor"`   // multiplier for age > ElderlyAgeMin
	AgentOptions      AgentOptions     `yaml:"agent_options"`
}

// Age band boundaries for the service-time multipliers.
const (
	PediatricAgeMax = 16
	ElderlyAgeMin   = 65
)

// DefaultTriageConfig returns the compiled-in rule set: life-threat terms at
// priority 1, very-urgent terms at priority 2, minor and administrative
// terms at 4/5, encounter-class sampling for the common classes, and the
// per-level service complexity table.
func DefaultTriageConfig() *TriageConfig {
	return &TriageConfig{
		DefaultPriority: 4,
		KeywordRules: []KeywordRule{
			{
				Name:      "life_threat",
				Terms:     []string{"cardiac arrest", "not breathing", "airway compromise", "shock", "unresponsive", "seizure", "major trauma"},
				Threshold: 90,
				Assign:    []int{1},
			},
			{
				Name:      "very_urgent",
				Terms:     []string{"severe pain", "chest pain", "difficulty breathing", "altered consciousness", "stridor", "vomiting blood", "major bleeding"},
				Threshold: 85,
				Assign:    []int{2},
			},
			{
				Name:      "minor",
				Terms:     []string{"prescription refill", "medication review", "follow up", "certification", "routine checkup"},
				Threshold: 88,
				Assign:    []int{4, 5},
			},
		},
		ClassPriorityMap: map[string][]int{
			"emergency":  {1, 2, 3},
			"urgentcare": {2, 3, 4},
			"ambulatory": {3, 4, 5},
			"wellness":   {4, 5},
			"outpatient": {3, 4, 5},
		},
		ServiceMinByLevel: map[int]float64{
			1: 90, // resuscitation: multi-team, advanced procedures
			2: 60, // major assessment with urgent diagnostics
			3: 40, // standard urgent care
			4: 20, // minor assessment
			5: 10, // advice and discharge
		},
		PediatricFactor: 1.2,
		ElderlyFactor:   1.1,
		AgentOptions:    AgentOptions{Temperature: 0.3, TopP: 0.9, NumPredict: 120},
	}
}

// LoadTriageConfig reads and validates a triage rule configuration from a
// YAML file.
func LoadTriageConfig(path string, catalog *Catalog) (*TriageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("reading triage config: %w", err)}
	}
	var cfg TriageConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("parsing triage config: %w", err)}
	}
	if err := cfg.Validate(catalog); err != nil {
		return nil, &ConfigurationError{Source: path, Err: err}
	}
	return &cfg, nil
}

// Validate checks that every referenced priority level exists in the catalog
// and that thresholds, multipliers and service times are sane.
func (cfg *TriageConfig) Validate(catalog *Catalog) error {
	if _, err := catalog.Get(cfg.DefaultPriority); err != nil {
		return fmt.Errorf("default_priority: %w", err)
	}
	for i, rule := range cfg.KeywordRules {
		if len(rule.Terms) == 0 {
			return fmt.Errorf("keyword rule %d (%s) has no terms", i, rule.Name)
		}
		if rule.Threshold < 1 || rule.Threshold > 100 {
			return fmt.Errorf("keyword rule %d (%s): threshold %d outside 1..100", i, rule.Name, rule.Threshold)
		}
		if len(rule.Assign) == 0 {
			return fmt.Errorf("keyword rule %d (%s) assigns no priority levels", i, rule.Name)
		}
		for _, level := range rule.Assign {
			if _, err := catalog.Get(level); err != nil {
				return fmt.Errorf("keyword rule %d (%s): %w", i, rule.Name, err)
			}
		}
	}
	for class, levels := range cfg.ClassPriorityMap {
		if len(levels) == 0 {
			return fmt.Errorf("class %q maps to no priority levels", class)
		}
		for _, level := range levels {
			if _, err := catalog.Get(level); err != nil {
				return fmt.Errorf("class %q: %w", class, err)
			}
		}
	}
	for level, minutes := range cfg.ServiceMinByLevel {
		if _, err := catalog.Get(level); err != nil {
			return fmt.Errorf("service table: %w", err)
		}
		if minutes <= 0 {
			return fmt.Errorf("service table: level %d has non-positive minutes %.1f", level, minutes)
		}
	}
	if cfg.PediatricFactor < 0 || cfg.ElderlyFactor < 0 {
		return fmt.Errorf("age multipliers must be non-negative")
	}
	return nil
}
