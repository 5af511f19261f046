package plan

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TestPlan describes one test: which case runs, where, and with what
// parameters.
type TestPlan struct {
	Metadata  Metadata               `json:"metadata" yaml:"metadata"`
	Case      string                 `json:"case" yaml:"case"`
	Platforms []string               `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	Requires  []string               `json:"requires,omitempty" yaml:"requires,omitempty"`
	Loop      int                    `json:"loop,omitempty" yaml:"loop,omitempty"`
	Timeout   string                 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Iteration string                 `json:"iteration_timeout,omitempty" yaml:"iteration_timeout,omitempty"`
	With      map[string]interface{} `json:"with,omitempty" yaml:"with,omitempty"`
	Variants  []VariantPlan          `json:"variants,omitempty" yaml:"variants,omitempty"`

	// Source is the file the plan was read from.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Metadata captures human-readable test metadata.
type Metadata struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Owner       string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Component   string   `json:"component,omitempty" yaml:"component,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// VariantPlan derives a test from a base plan.
type VariantPlan struct {
	Name       string                 `json:"name,omitempty" yaml:"name,omitempty"`
	NameSuffix string                 `json:"name_suffix,omitempty" yaml:"name_suffix,omitempty"`
	Tags       []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Platforms  []string               `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	Loop       int                    `json:"loop,omitempty" yaml:"loop,omitempty"`
	With       map[string]interface{} `json:"with,omitempty" yaml:"with,omitempty"`
}

// MatchesTags returns true if the test is allowed by include/exclude tags.
func (p TestPlan) MatchesTags(include []string, exclude []string) bool {
	if len(include) == 0 && len(exclude) == 0 {
		return true
	}
	for _, tag := range exclude {
		for _, existing := range p.Metadata.Tags {
			if strings.EqualFold(tag, existing) {
				return false
			}
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, tag := range include {
		for _, existing := range p.Metadata.Tags {
			if strings.EqualFold(tag, existing) {
				return true
			}
		}
	}
	return false
}

// SupportsPlatform reports whether the plan runs on platform. A plan with no
// platforms runs everywhere.
func (p TestPlan) SupportsPlatform(platform string) bool {
	if len(p.Platforms) == 0 {
		return true
	}
	for _, candidate := range p.Platforms {
		if strings.EqualFold(strings.TrimSpace(candidate), platform) {
			return true
		}
	}
	return false
}

// MissingRequirements returns the required capabilities not in available.
func (p TestPlan) MissingRequirements(available []string) []string {
	var missing []string
	for _, req := range p.Requires {
		found := false
		for _, capability := range available {
			if strings.EqualFold(strings.TrimSpace(req), strings.TrimSpace(capability)) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, req)
		}
	}
	return missing
}

// TimeoutDuration parses Timeout, falling back when it is empty.
func (p TestPlan) TimeoutDuration(fallback time.Duration) (time.Duration, error) {
	return parseDuration(p.Timeout, fallback)
}

// IterationTimeout parses the per-iteration timeout; zero means none.
func (p TestPlan) IterationTimeout() (time.Duration, error) {
	return parseDuration(p.Iteration, 0)
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid timeout %q", value)
	}
	return d, nil
}
