// Package repoconfig reads per-repository configuration from .minder.yml
// at the root of the target repository's checkout (or any path the caller
// supplies). A missing file yields defaults; a malformed file is an error
// so a typo never silently reverts a repo to default behavior.
package repoconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the expected config file name at the repo root.
const DefaultFileName = ".minder.yml"

// Default labels used when the repo config does not override them.
const (
	DefaultTriggerLabel    = "minder"
	DefaultNeedsHumanLabel = "minder:needs-human"
	DefaultDoneLabel       = "minder:done"
	DefaultFailedLabel     = "minder:failed"
)

// Config is the per-repository configuration.
type Config struct {
	// Labels controls which labels drive and report the lifecycle.
	Labels LabelConfig `yaml:"labels"`

	// VM selects droplet size and region for development sessions.
	VM VMConfig `yaml:"vm"`

	// Phases holds per-phase timeout overrides and the test phase opt-in.
	Phases PhaseConfig `yaml:"phases"`
}

// LabelConfig names the lifecycle labels.
type LabelConfig struct {
	// Trigger marks an issue as a candidate for processing.
	Trigger string `yaml:"trigger"`

	// NeedsHuman is applied while minder waits for clarification.
	NeedsHuman string `yaml:"needs_human"`

	// Done is applied after a successful development session.
	Done string `yaml:"done"`

	// Failed is applied after a failed development session.
	Failed string `yaml:"failed"`
}

// VMConfig selects the droplet shape for development sessions.
type VMConfig struct {
	Size   string `yaml:"size"`
	Region string `yaml:"region"`
}

// PhaseConfig carries per-phase timeout overrides as duration strings
// ("10m", "1h") plus the test phase opt-in.
type PhaseConfig struct {
	// TestEnabled opts the repo into the test phase. Off by default:
	// many repos have no test harness on a fresh VM.
	TestEnabled bool `yaml:"test_enabled"`

	Analyze   string `yaml:"analyze,omitempty"`
	Implement string `yaml:"implement,omitempty"`
	Test      string `yaml:"test,omitempty"`
	Validate  string `yaml:"validate,omitempty"`
	Publish   string `yaml:"publish,omitempty"`
}

// DefaultConfig returns the configuration used when .minder.yml is absent.
func DefaultConfig() *Config {
	return &Config{
		Labels: LabelConfig{
			Trigger:    DefaultTriggerLabel,
			NeedsHuman: DefaultNeedsHumanLabel,
			Done:       DefaultDoneLabel,
			Failed:     DefaultFailedLabel,
		},
		VM: VMConfig{
			Size:   "s-2vcpu-4gb",
			Region: "sfo3",
		},
		Phases: PhaseConfig{
			TestEnabled: false,
		},
	}
}

// Load reads the config at path. A missing file returns DefaultConfig;
// any other read or parse failure is an error. Fields left empty in the
// file are backfilled from defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading repo config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &config, nil
}

func applyDefaults(config *Config) {
	defaults := DefaultConfig()
	if config.Labels.Trigger == "" {
		config.Labels.Trigger = defaults.Labels.Trigger
	}
	if config.Labels.NeedsHuman == "" {
		config.Labels.NeedsHuman = defaults.Labels.NeedsHuman
	}
	if config.Labels.Done == "" {
		config.Labels.Done = defaults.Labels.Done
	}
	if config.Labels.Failed == "" {
		config.Labels.Failed = defaults.Labels.Failed
	}
	if config.VM.Size == "" {
		config.VM.Size = defaults.VM.Size
	}
	if config.VM.Region == "" {
		config.VM.Region = defaults.VM.Region
	}
}

func validate(config *Config) error {
	overrides := map[string]string{
		"analyze":   config.Phases.Analyze,
		"implement": config.Phases.Implement,
		"test":      config.Phases.Test,
		"validate":  config.Phases.Validate,
		"publish":   config.Phases.Publish,
	}
	for phase, raw := range overrides {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("phase %s timeout %q: %w", phase, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("phase %s timeout %q must be positive", phase, raw)
		}
	}
	return nil
}

// PhaseTimeout returns the configured timeout for the named phase, or
// zero when the repo does not override it (caller falls back to its
// built-in default).
func (c *Config) PhaseTimeout(phase string) time.Duration {
	var raw string
	switch phase {
	case "analyze":
		raw = c.Phases.Analyze
	case "implement":
		raw = c.Phases.Implement
	case "test":
		raw = c.Phases.Test
	case "validate":
		raw = c.Phases.Validate
	case "publish":
		raw = c.Phases.Publish
	}
	if raw == "" {
		return 0
	}
	// validate() already checked parseability on load.
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
