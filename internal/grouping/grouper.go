package grouping

import (
	"fmt"

	"github.com/fidde/groupsink/internal/grouping/fingerprint"
	"github.com/fidde/groupsink/internal/grouping/normalize"
	"github.com/fidde/groupsink/pkg/models"
)

// Grouper computes grouping variants for events, applying per-project
// server-side fingerprinting rules on top of the strategy configuration.
type Grouper struct {
	cfg        Config
	normalizer *normalize.Normalizer

	// rules maps project name to its fingerprinting ruleset; the ""
	// key holds rules applied to every project
	rules map[string]*fingerprint.Ruleset
}

// Option configures a Grouper.
type Option func(*Grouper)

// WithNormalizer overrides the message normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(g *Grouper) { g.normalizer = n }
}

// WithRules sets the per-project fingerprinting rulesets.
func WithRules(rules map[string]*fingerprint.Ruleset) Option {
	return func(g *Grouper) { g.rules = rules }
}

// New creates a Grouper with the given strategy configuration.
func New(cfg Config, opts ...Option) *Grouper {
	g := &Grouper{
		cfg:        cfg,
		normalizer: normalize.New(nil),
		rules:      make(map[string]*fingerprint.Ruleset),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Result is the full grouping outcome for an event.
type Result struct {
	// Variants maps variant name to its outcome
	Variants map[string]*Variant `json:"variants"`

	// Hashes is the ordered hash list; the first entry is the primary
	// hash the group is keyed under
	Hashes []string `json:"hashes"`

	// Title, Culprit and Level feed the group's display metadata
	Title    string               `json:"title"`
	Culprit  string               `json:"culprit,omitempty"`
	Level    string               `json:"level"`
	Metadata models.GroupMetadata `json:"metadata"`
}

// PrimaryHash returns the hash the group is keyed under.
func (r *Result) PrimaryHash() string {
	if len(r.Hashes) == 0 {
		return ""
	}
	return r.Hashes[0]
}

// Grouping computes the variants and hashes for an event. An event
// always yields at least one hash.
func (g *Grouper) Grouping(event *models.Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}

	variants, ruleAttrs := g.buildVariants(event)

	result := &Result{
		Variants: variants,
		Level:    models.NormalizeLevel(event.Level),
	}
	g.fillMetadata(result, event, ruleAttrs)

	// Hash order: custom fingerprint first, then app, then system.
	// Duplicates (e.g. app == system for fully in-app traces) collapse.
	seen := make(map[string]struct{})
	for _, name := range []string{VariantCustomFingerprint, VariantApp, VariantSystem} {
		v, ok := variants[name]
		if !ok {
			continue
		}
		hash, ok := v.Hash()
		if !ok {
			continue
		}
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		result.Hashes = append(result.Hashes, hash)
	}
	if len(result.Hashes) == 0 {
		return nil, fmt.Errorf("event %s produced no grouping hash", event.EventID)
	}

	return result, nil
}

// buildVariants constructs the named variants, applying fingerprint
// precedence rules. The second return holds the matched rule's
// attributes (title overrides), nil when no rule matched.
func (g *Grouper) buildVariants(event *models.Event) (map[string]*Variant, map[string]string) {
	appComponent := g.buildRootComponent(event, VariantApp)
	systemComponent := g.buildRootComponent(event, VariantSystem)

	variants := map[string]*Variant{
		VariantApp:    {Name: VariantApp, Type: VariantTypeComponent, Component: appComponent},
		VariantSystem: {Name: VariantSystem, Type: VariantTypeComponent, Component: systemComponent},
	}

	values, matchedRule, ruleAttrs, fromClient := g.resolveFingerprint(event)
	if values == nil {
		return variants, nil
	}

	literals := make([]string, 0, len(values))
	hasDefault := false
	for _, v := range values {
		if fingerprint.IsDefault(v) {
			hasDefault = true
			continue
		}
		literals = append(literals, v)
	}

	source := "server-side"
	if fromClient {
		source = "client-side"
	}

	if hasDefault {
		if len(literals) == 0 {
			// Plain {{ default }}: nothing to change
			return variants, ruleAttrs
		}
		// Salted grouping: default components with fingerprint salt
		for _, name := range []string{VariantApp, VariantSystem} {
			v := variants[name]
			v.Type = VariantTypeSalted
			v.Values = literals
			v.MatchedRule = matchedRule
			v.Hint = "modified by " + source + " fingerprinting"
		}
		return variants, ruleAttrs
	}

	// Fully custom fingerprint: app/system are suppressed
	custom := &Variant{
		Name:        VariantCustomFingerprint,
		Type:        VariantTypeCustom,
		Values:      literals,
		MatchedRule: matchedRule,
	}
	if fromClient {
		custom.Type = VariantTypeBuiltFromClient
	}
	variants[VariantCustomFingerprint] = custom

	hint := "custom " + sourceShort(fromClient) + " fingerprint takes precedence"
	appComponent.MarkNonContributing(hint)
	systemComponent.MarkNonContributing(hint)
	variants[VariantApp].Hint = hint
	variants[VariantSystem].Hint = hint

	return variants, ruleAttrs
}

func sourceShort(fromClient bool) string {
	if fromClient {
		return "client"
	}
	return "server"
}

// resolveFingerprint applies fingerprint precedence: a matching server
// rule beats the client fingerprint, which beats the default. The
// project's own rules are matched first, then the shared defaults. A
// nil return means default grouping applies unchanged.
func (g *Grouper) resolveFingerprint(event *models.Event) (values []string, matchedRule string, attrs map[string]string, fromClient bool) {
	for _, ruleset := range []*fingerprint.Ruleset{g.rules[event.Project], g.rules[""]} {
		if match := ruleset.Match(event); match != nil {
			return match.Values, match.Rule.Text(), match.Attributes, false
		}
	}

	if !event.HasDefaultFingerprint() {
		return fingerprint.ResolveClient(event), "", nil, true
	}

	return nil, "", nil, false
}

// normalizeValue runs message normalization when the configuration
// asks for it, reporting whether anything changed.
func (g *Grouper) normalizeValue(value string) (string, bool) {
	if !g.cfg.NormalizeMessage {
		return value, false
	}
	normalized := g.normalizer.Normalize(value)
	return normalized, normalized != value
}
