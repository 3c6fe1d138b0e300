// Package config loads the server's grouping configuration from YAML:
// the strategy configuration id, message normalization patterns and
// per-project fingerprinting rules.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fidde/groupsink/internal/grouping/fingerprint"
	"github.com/fidde/groupsink/internal/grouping/normalize"
)

// RulesConfig holds fingerprinting rule text per project. Defaults
// apply to every project; a project's own rules are matched first.
type RulesConfig struct {
	Defaults string            `yaml:"defaults"`
	Projects map[string]string `yaml:"projects"`
}

// File is the on-disk grouping configuration.
type File struct {
	// GroupingConfig selects the strategy configuration id
	GroupingConfig string `yaml:"grouping_config"`

	// Patterns override the built-in message normalization patterns
	Patterns []normalize.Pattern `yaml:"patterns"`

	Rules RulesConfig `yaml:"rules"`
}

// Config is the loaded and compiled grouping configuration.
type Config struct {
	GroupingConfig string
	Patterns       []normalize.CompiledPattern

	// Rules maps project name to its compiled ruleset; the "" key
	// holds rules applied to every project
	Rules map[string]*fingerprint.Ruleset
}

// Load reads and compiles a grouping configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse compiles a grouping configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		GroupingConfig: file.GroupingConfig,
		Rules:          make(map[string]*fingerprint.Ruleset),
	}

	for i, p := range file.Patterns {
		compiled, err := normalize.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, p.Name, err)
		}
		cfg.Patterns = append(cfg.Patterns, compiled)
	}

	if file.Rules.Defaults != "" {
		ruleset, err := fingerprint.Parse(file.Rules.Defaults)
		if err != nil {
			return nil, fmt.Errorf("default rules: %w", err)
		}
		cfg.Rules[""] = ruleset
	}
	for project, text := range file.Rules.Projects {
		ruleset, err := fingerprint.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("rules for project %s: %w", project, err)
		}
		cfg.Rules[project] = ruleset
	}

	return cfg, nil
}
