package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	data := []byte(`
grouping_config: "newstyle:2023-01-11"

patterns:
  - name: TICKET
    regex: 'TICKET-\d+'
    placeholder: "<ticket>"
    description: "Internal ticket references"

rules:
  defaults: |
    type:"DatabaseUnavailable" -> database-down
  projects:
    checkout: |
      type:"PaymentError" -> payment-error title="Payment failure"
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.GroupingConfig != "newstyle:2023-01-11" {
		t.Errorf("grouping config: got %s", cfg.GroupingConfig)
	}

	if len(cfg.Patterns) != 1 {
		t.Fatalf("patterns: got %d, want 1", len(cfg.Patterns))
	}
	pattern := cfg.Patterns[0]
	if pattern.Name != "TICKET" || pattern.Placeholder != "<ticket>" {
		t.Errorf("pattern: %+v", pattern)
	}
	if got := pattern.Regex.ReplaceAllString("failed on TICKET-1234", pattern.Placeholder); got != "failed on <ticket>" {
		t.Errorf("pattern application: got %q", got)
	}

	defaults, ok := cfg.Rules[""]
	if !ok || len(defaults.Rules) != 1 {
		t.Fatalf("default rules: %+v", cfg.Rules)
	}
	checkout, ok := cfg.Rules["checkout"]
	if !ok || len(checkout.Rules) != 1 {
		t.Fatalf("checkout rules: %+v", cfg.Rules)
	}
	if checkout.Rules[0].Attributes["title"] != "Payment failure" {
		t.Errorf("rule attributes: %+v", checkout.Rules[0].Attributes)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.GroupingConfig != "" || len(cfg.Patterns) != 0 || len(cfg.Rules) != 0 {
		t.Errorf("empty config: %+v", cfg)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "rules: [unbalanced"},
		{"bad pattern regex", "patterns:\n  - name: BAD\n    regex: '['\n    placeholder: '<bad>'"},
		{"bad default rules", "rules:\n  defaults: 'no arrow here'"},
		{"bad project rules", "rules:\n  projects:\n    checkout: 'also no arrow'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grouping.yaml")
	content := `grouping_config: "newstyle:2019-05-08"`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GroupingConfig != "newstyle:2019-05-08" {
		t.Errorf("grouping config: got %s", cfg.GroupingConfig)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}
