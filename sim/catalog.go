package sim

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PriorityInfo is the metadata attached to one triage priority level.
// Level 1 is most urgent. The catalog is immutable once loaded.
type PriorityInfo struct {
	Level      int     `yaml:"-"`
	Name       string  `yaml:"name"`
	Color      string  `yaml:"color"`
	MaxWaitMin float64 `yaml:"max_wait_min"`
	Weight     float64 `yaml:"weight"`
}

// Catalog maps priority levels 1..5 to their metadata. Construct via
// DefaultCatalog or LoadCatalog; the engine and policies hold it by
// reference and never mutate it.
type Catalog struct {
	levels map[int]PriorityInfo
}

// MinPriority and MaxPriority bound the valid triage priority range.
const (
	MinPriority = 1
	MaxPriority = 5
)

// DefaultCatalog returns the built-in five-level catalog with the standard
// category names, colors and target maximum waits (0/10/60/120/240 min).
func DefaultCatalog() *Catalog {
	return &Catalog{levels: map[int]PriorityInfo{
		1: {Level: 1, Name: "Immediate", Color: "Red", MaxWaitMin: 0, Weight: 0.02},
		2: {Level: 2, Name: "Very Urgent", Color: "Orange", MaxWaitMin: 10, Weight: 0.08},
		3: {Level: 3, Name: "Urgent", Color: "Yellow", MaxWaitMin: 60, Weight: 0.25},
		4: {Level: 4, Name: "Standard", Color: "Green", MaxWaitMin: 120, Weight: 0.45},
		5: {Level: 5, Name: "Non-urgent", Color: "Blue", MaxWaitMin: 240, Weight: 0.20},
	}}
}

// catalogFile is the YAML on-disk shape: a "priorities" map keyed by level.
type catalogFile struct {
	Priorities map[int]PriorityInfo `yaml:"priorities"`
}

// LoadCatalog reads and validates a priority catalog from a YAML file.
// Missing or malformed configuration fails fast with a ConfigurationError:
// downstream max-wait computation depends on the catalog, so silent
// defaulting is not an option.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("reading priority catalog: %w", err)}
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("parsing priority catalog: %w", err)}
	}
	levels := make(map[int]PriorityInfo, len(file.Priorities))
	for level, info := range file.Priorities {
		info.Level = level
		levels[level] = info
	}
	c := &Catalog{levels: levels}
	if err := c.validate(); err != nil {
		return nil, &ConfigurationError{Source: path, Err: err}
	}
	return c, nil
}

func (c *Catalog) validate() error {
	if len(c.levels) != MaxPriority {
		return fmt.Errorf("catalog must define exactly %d priority levels, got %d", MaxPriority, len(c.levels))
	}
	for level := MinPriority; level <= MaxPriority; level++ {
		info, ok := c.levels[level]
		if !ok {
			return fmt.Errorf("catalog is missing priority level %d", level)
		}
		if info.Name == "" {
			return fmt.Errorf("priority %d has empty name", level)
		}
		if info.MaxWaitMin < 0 {
			return fmt.Errorf("priority %d has negative max_wait_min %.1f", level, info.MaxWaitMin)
		}
		if info.Weight <= 0 {
			return fmt.Errorf("priority %d has non-positive weight %.3f", level, info.Weight)
		}
	}
	return nil
}

// Get returns the metadata for a priority level, or ErrInvalidPriority when
// the level is outside 1..5.
func (c *Catalog) Get(level int) (PriorityInfo, error) {
	info, ok := c.levels[level]
	if !ok {
		return PriorityInfo{}, fmt.Errorf("level %d: %w", level, ErrInvalidPriority)
	}
	return info, nil
}

// Levels returns the defined priority levels in ascending order.
func (c *Catalog) Levels() []int {
	out := make([]int, 0, len(c.levels))
	for level := range c.levels {
		out = append(out, level)
	}
	sort.Ints(out)
	return out
}

// Weights returns the sampling weights for the given levels, in order.
// Levels absent from the catalog get weight zero.
func (c *Catalog) Weights(levels []int) []float64 {
	weights := make([]float64, len(levels))
	for i, level := range levels {
		weights[i] = c.levels[level].Weight
	}
	return weights
}
