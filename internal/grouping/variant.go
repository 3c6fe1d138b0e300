package grouping

import (
	"encoding/json"
)

// Variant names. An event always produces app and system; a custom
// fingerprint adds (or replaces them with) custom_fingerprint.
const (
	VariantApp               = "app"
	VariantSystem            = "system"
	VariantCustomFingerprint = "custom_fingerprint"
)

// Variant kinds, reported in the debug output.
const (
	VariantTypeComponent       = "component"
	VariantTypeSalted          = "salted_component"
	VariantTypeCustom          = "custom_fingerprint"
	VariantTypeBuiltFromClient = "custom_fingerprint_client"
)

// Variant is one named grouping outcome for an event. Component
// variants carry a component tree; custom fingerprint variants carry
// the matched rule and resolved values. Salted variants carry both.
type Variant struct {
	// Name is app, system or custom_fingerprint
	Name string `json:"-"`

	// Type describes how the variant was built
	Type string `json:"type"`

	// Hint explains a non-contributing variant
	Hint string `json:"hint,omitempty"`

	// Component is the grouping tree (component and salted variants)
	Component *Component `json:"component,omitempty"`

	// MatchedRule is the server rule's text rendition, empty for
	// client fingerprints
	MatchedRule string `json:"matched_rule,omitempty"`

	// Values are the resolved fingerprint parts (custom and salted
	// variants); the {{ default }} marker is excluded
	Values []string `json:"values,omitempty"`
}

// Contributes reports whether the variant produces a hash.
func (v *Variant) Contributes() bool {
	switch v.Type {
	case VariantTypeCustom, VariantTypeBuiltFromClient:
		return true
	default:
		return v.Component != nil && v.Component.Contributes
	}
}

// Hash returns the variant's grouping hash. ok is false for
// non-contributing variants (the hash is null in the wire rendition).
func (v *Variant) Hash() (string, bool) {
	switch v.Type {
	case VariantTypeCustom, VariantTypeBuiltFromClient:
		if len(v.Values) == 0 {
			return "", false
		}
		return hashWithSalt(nil, v.Values)
	case VariantTypeSalted:
		if v.Component == nil || !v.Component.Contributes {
			return "", false
		}
		return hashWithSalt(v.Component, v.Values)
	default:
		if v.Component == nil {
			return "", false
		}
		return v.Component.Hash()
	}
}

// MarshalJSON adds the computed hash (null when non-contributing) and
// the contributes flag to the wire rendition.
func (v *Variant) MarshalJSON() ([]byte, error) {
	type alias Variant
	out := struct {
		*alias
		Contributes bool    `json:"contributes"`
		Hash        *string `json:"hash"`
	}{
		alias:       (*alias)(v),
		Contributes: v.Contributes(),
	}
	if hash, ok := v.Hash(); ok {
		out.Hash = &hash
	}
	return json.Marshal(out)
}
