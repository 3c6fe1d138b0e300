// Package normalize strips volatile values out of exception messages so
// that messages differing only in parameters group together.
package normalize

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern represents a single parameterization pattern
type Pattern struct {
	Name        string `yaml:"name"`
	Regex       string `yaml:"regex"`
	Placeholder string `yaml:"placeholder"`
	Description string `yaml:"description"`
}

// PatternsConfig represents the patterns configuration file
type PatternsConfig struct {
	Patterns []Pattern `yaml:"patterns"`
}

// CompiledPattern is a pattern with compiled regex
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Placeholder string
	Description string
}

// Normalizer applies the pattern set in order.
type Normalizer struct {
	patterns []CompiledPattern
}

// New creates a normalizer from the given patterns. Nil or empty falls
// back to the built-in defaults.
func New(patterns []CompiledPattern) *Normalizer {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Normalizer{patterns: patterns}
}

// Normalize replaces parameter-like substrings with placeholders.
func (n *Normalizer) Normalize(message string) string {
	for _, p := range n.patterns {
		message = p.Regex.ReplaceAllString(message, p.Placeholder)
	}
	return message
}

// LoadPatterns loads patterns from a YAML file
func LoadPatterns(filepath string) ([]CompiledPattern, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading patterns file: %w", err)
	}

	var config PatternsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing patterns YAML: %w", err)
	}

	compiled := make([]CompiledPattern, 0, len(config.Patterns))
	for _, p := range config.Patterns {
		c, err := Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}

	return compiled, nil
}

// Compile compiles a single pattern's regex.
func Compile(p Pattern) (CompiledPattern, error) {
	regex, err := regexp.Compile(p.Regex)
	if err != nil {
		return CompiledPattern{}, fmt.Errorf("compiling pattern %s: %w", p.Name, err)
	}
	return CompiledPattern{
		Name:        p.Name,
		Regex:       regex,
		Placeholder: p.Placeholder,
		Description: p.Description,
	}, nil
}

// DefaultPatterns returns the default compiled patterns (fallback if config file not found)
func DefaultPatterns() []CompiledPattern {
	return []CompiledPattern{
		{
			Name:        "uuid",
			Regex:       regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`),
			Placeholder: "<uuid>",
			Description: "Standard UUID format",
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
			Placeholder: "<email>",
			Description: "Email addresses",
		},
		{
			Name:        "url",
			Regex:       regexp.MustCompile(`https?://[^\s'"]+`),
			Placeholder: "<url>",
			Description: "HTTP/HTTPS URLs",
		},
		{
			Name:        "ip",
			Regex:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Placeholder: "<ip>",
			Description: "IPv4 addresses",
		},
		{
			Name:        "duration",
			Regex:       regexp.MustCompile(`\b\d+(?:\.\d+)?(?:ns|µs|us|ms|s|m|h)\b`),
			Placeholder: "<duration>",
			Description: "Go-style durations",
		},
		{
			Name:        "hex",
			Regex:       regexp.MustCompile(`\b0[xX][0-9a-fA-F]+\b|\b[0-9a-fA-F]{16,}\b`),
			Placeholder: "<hex>",
			Description: "Hex identifiers and addresses",
		},
		{
			Name:        "int",
			Regex:       regexp.MustCompile(`\b\d+\b`),
			Placeholder: "<int>",
			Description: "Integer literals",
		},
		{
			Name:        "quoted",
			Regex:       regexp.MustCompile(`'[^']*'`),
			Placeholder: "<quoted>",
			Description: "Single-quoted strings",
		},
	}
}
