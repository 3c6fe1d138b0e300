package estimate

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestSketch_SmallCounts(t *testing.T) {
	s := New()
	if got := s.Count(); got != 0 {
		t.Errorf("empty count: got %d, want 0", got)
	}

	for i := 0; i < 50; i++ {
		s.Add(fmt.Sprintf("user-%d", i))
	}
	got := s.Count()
	if got < 48 || got > 52 {
		t.Errorf("count of 50 distinct: got %d, want ~50", got)
	}
}

func TestSketch_Duplicates(t *testing.T) {
	s := New()
	for i := 0; i < 1000; i++ {
		s.Add("same-user")
	}
	if got := s.Count(); got != 1 {
		t.Errorf("count of 1 distinct added 1000 times: got %d, want 1", got)
	}
}

func TestSketch_LargeCountAccuracy(t *testing.T) {
	s := New()
	// Well past the linear-counting crossover, where the raw estimator's
	// bias has settled down
	const n = 50000
	for i := 0; i < n; i++ {
		s.Add(fmt.Sprintf("user-%d", i))
	}

	got := float64(s.Count())
	if got < n*0.90 || got > n*1.10 {
		t.Errorf("count of %d distinct: got %.0f, want within 10%%", n, got)
	}
}

func TestSketch_Merge(t *testing.T) {
	a := New()
	b := New()
	for i := 0; i < 500; i++ {
		a.Add(fmt.Sprintf("user-%d", i))
	}
	// Half overlapping, half new
	for i := 250; i < 750; i++ {
		b.Add(fmt.Sprintf("user-%d", i))
	}

	a.Merge(b)
	got := float64(a.Count())
	if got < 750*0.95 || got > 750*1.05 {
		t.Errorf("merged count: got %.0f, want ~750", got)
	}

	// Merging nil is a no-op
	before := a.Count()
	a.Merge(nil)
	if a.Count() != before {
		t.Error("nil merge changed the sketch")
	}
}

func TestSketch_JSONRoundtrip(t *testing.T) {
	s := New()
	for i := 0; i < 321; i++ {
		s.Add(fmt.Sprintf("user-%d", i))
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	restored := New()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if restored.Count() != s.Count() {
		t.Errorf("roundtrip count: got %d, want %d", restored.Count(), s.Count())
	}
}

func TestSketch_UnmarshalErrors(t *testing.T) {
	s := New()
	if err := json.Unmarshal([]byte(`"not base64!!!"`), s); err == nil {
		t.Error("expected error for invalid base64")
	}
	if err := json.Unmarshal([]byte(`"QUJD"`), s); err == nil {
		t.Error("expected error for wrong register count")
	}
}
