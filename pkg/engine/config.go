package engine

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/viewgroups/pkg/identity"
	"github.com/germanamz/viewgroups/pkg/reveal"
	"github.com/germanamz/viewgroups/pkg/scan"
	"github.com/germanamz/viewgroups/pkg/visibility"
)

// Config is the top-level engine configuration.
type Config struct {
	HostPage   HostPageConfig   `yaml:"host_page"`
	Scan       scan.Options     `yaml:"scan"`
	Identity   identity.Options `yaml:"identity"`
	Visibility VisibilityConfig `yaml:"visibility"`
	Reveal     RevealConfig     `yaml:"reveal"`
	GroupsFile string           `yaml:"groups_file"`
}

// HostPageConfig gates the engine to its intended document.
type HostPageConfig struct {
	// URLPattern is a regular expression the document URL must match.
	// Empty means the engine operates on any page.
	URLPattern string `yaml:"url_pattern"`
}

// VisibilityConfig mirrors visibility.Options with YAML-friendly durations.
type VisibilityConfig struct {
	SettleDelay string `yaml:"settle_delay"` // duration string, e.g. "150ms"
}

// RevealConfig mirrors reveal.Options with YAML-friendly durations.
type RevealConfig struct {
	Budget                string    `yaml:"budget"`
	SettleDelay           string    `yaml:"settle_delay"`
	FractionalOffsets     []float64 `yaml:"fractional_offsets"`
	WheelSteps            int       `yaml:"wheel_steps"`
	MutationWindow        string    `yaml:"mutation_window"`
	QuietInterval         string    `yaml:"quiet_interval"`
	QuietCount            int       `yaml:"quiet_count"`
	ExpanderSelector      string    `yaml:"expander_selector"`
	PrimarySectionLabels  []string  `yaml:"primary_section_labels"`
	SecondarySectionLabel string    `yaml:"secondary_section_label"`
}

// LoadConfig reads a YAML file and returns a Config. Environment variables
// referenced as ${VAR} or $VAR in the YAML are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.HostPage.URLPattern != "" {
		if _, err := regexp.Compile(c.HostPage.URLPattern); err != nil {
			return fmt.Errorf("engine: config: host_page.url_pattern: %w", err)
		}
	}
	for field, value := range map[string]string{
		"visibility.settle_delay": c.Visibility.SettleDelay,
		"reveal.budget":           c.Reveal.Budget,
		"reveal.settle_delay":     c.Reveal.SettleDelay,
		"reveal.mutation_window":  c.Reveal.MutationWindow,
		"reveal.quiet_interval":   c.Reveal.QuietInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("engine: config: %s: %w", field, err)
		}
	}
	for _, f := range c.Reveal.FractionalOffsets {
		if f < 0 || f > 1 {
			return fmt.Errorf("engine: config: reveal.fractional_offsets: %v outside [0,1]", f)
		}
	}
	return nil
}

// VisibilityOptions converts the mirror into visibility.Options.
func (c Config) VisibilityOptions() visibility.Options {
	return visibility.Options{SettleDelay: parseDuration(c.Visibility.SettleDelay)}
}

// RevealOptions converts the mirror into reveal.Options.
func (c Config) RevealOptions() reveal.Options {
	return reveal.Options{
		Budget:                parseDuration(c.Reveal.Budget),
		SettleDelay:           parseDuration(c.Reveal.SettleDelay),
		FractionalOffsets:     c.Reveal.FractionalOffsets,
		WheelSteps:            c.Reveal.WheelSteps,
		MutationWindow:        parseDuration(c.Reveal.MutationWindow),
		QuietInterval:         parseDuration(c.Reveal.QuietInterval),
		QuietCount:            c.Reveal.QuietCount,
		ExpanderSelector:      c.Reveal.ExpanderSelector,
		PrimarySectionLabels:  c.Reveal.PrimarySectionLabels,
		SecondarySectionLabel: c.Reveal.SecondarySectionLabel,
	}
}

// parseDuration returns the parsed duration or zero, letting the option's own
// default apply. Validate has already rejected malformed values.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
