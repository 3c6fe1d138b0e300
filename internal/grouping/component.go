// Package grouping computes grouping variants and hashes for error events.
//
// An event produces a set of named variants (app, system,
// custom_fingerprint). Each variant either contributes a grouping hash or
// is marked non-contributing with a hint explaining why. The hashes are
// what storage uses to aggregate events into groups.
package grouping

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
)

// Component is one node of a grouping tree. Values is an ordered list
// holding string leaves and/or nested *Component children; only
// contributing nodes feed the hash.
type Component struct {
	ID          string
	Hint        string
	Contributes bool
	Values      []any
}

// NewComponent creates a contributing component with the given values.
// Values must be string or *Component.
func NewComponent(id string, values ...any) *Component {
	return &Component{
		ID:          id,
		Contributes: true,
		Values:      values,
	}
}

// MarkNonContributing marks the component non-contributing with a hint.
func (c *Component) MarkNonContributing(hint string) {
	c.Contributes = false
	c.Hint = hint
}

// HasContributingChild reports whether any nested component contributes.
func (c *Component) HasContributingChild() bool {
	for _, v := range c.Values {
		if child, ok := v.(*Component); ok && child.Contributes {
			return true
		}
	}
	return false
}

// Hash returns the md5 hex digest over the contributing string leaves,
// depth-first in order. ok is false when the component itself does not
// contribute or contains no contributing material.
func (c *Component) Hash() (string, bool) {
	return hashWithSalt(c, nil)
}

// hashWithSalt hashes optional literal salt values ahead of the
// component's contributing leaves. A nil component with a salt still
// produces a hash (used by fingerprint-only variants).
func hashWithSalt(c *Component, salt []string) (string, bool) {
	h := md5.New()
	wrote := false
	for _, s := range salt {
		writeHashValue(h, s)
		wrote = true
	}
	if c != nil && c.Contributes {
		wrote = c.hashInto(h) || wrote
	}
	if !wrote {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// hashInto writes the contributing leaves into h and reports whether
// anything was written. Caller has already checked c.Contributes.
func (c *Component) hashInto(h io.Writer) bool {
	wrote := false
	for _, v := range c.Values {
		switch val := v.(type) {
		case string:
			writeHashValue(h, val)
			wrote = true
		case *Component:
			if val.Contributes {
				wrote = val.hashInto(h) || wrote
			}
		}
	}
	return wrote
}

// writeHashValue writes one leaf with a terminator so that ["ab","c"]
// and ["a","bc"] hash differently.
func writeHashValue(h io.Writer, s string) {
	io.WriteString(h, s)
	h.Write([]byte{0})
}

// componentJSON is the wire rendition of a component tree, matching the
// shape used by the variants debug endpoint.
type componentJSON struct {
	ID          string `json:"id"`
	Contributes bool   `json:"contributes"`
	Hint        string `json:"hint,omitempty"`
	Values      []any  `json:"values,omitempty"`
}

// MarshalJSON renders the tree with nested components expanded.
func (c *Component) MarshalJSON() ([]byte, error) {
	out := componentJSON{
		ID:          c.ID,
		Contributes: c.Contributes,
		Hint:        c.Hint,
	}
	for _, v := range c.Values {
		switch val := v.(type) {
		case string:
			out.Values = append(out.Values, val)
		case *Component:
			out.Values = append(out.Values, val)
		}
	}
	return json.Marshal(out)
}
