package grouping

import (
	"strings"
	"testing"

	"github.com/fidde/groupsink/pkg/models"
)

func TestGrouper_Metadata(t *testing.T) {
	g := newTestGrouper(t)

	tests := []struct {
		name        string
		event       *models.Event
		wantTitle   string
		wantCulprit string
		wantType    string
	}{
		{
			name:        "exception with in-app frame",
			event:       exceptionEvent(),
			wantTitle:   "DatabaseUnavailable",
			wantCulprit: "myapp.db in connect",
			wantType:    "DatabaseUnavailable",
		},
		{
			name: "untyped exception falls back to value",
			event: &models.Event{
				Project:    "backend",
				Exceptions: []models.Exception{{Value: "something broke\nsecond line"}},
			},
			wantTitle: "something broke",
		},
		{
			name:        "message event",
			event:       &models.Event{Project: "backend", Message: "disk full on /var"},
			wantTitle:   "disk full on /var",
			wantType:    "message",
			wantCulprit: "",
		},
		{
			name: "transaction culprit fallback",
			event: &models.Event{
				Project:     "backend",
				Message:     "timeout",
				Transaction: "/api/checkout",
			},
			wantTitle:   "timeout",
			wantType:    "message",
			wantCulprit: "/api/checkout",
		},
		{
			name:      "empty event",
			event:     &models.Event{Project: "backend", Fingerprint: []string{"fallback"}},
			wantTitle: "<untitled>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := g.Grouping(tt.event)
			if err != nil {
				t.Fatalf("Grouping failed: %v", err)
			}
			if result.Title != tt.wantTitle {
				t.Errorf("title: got %q, want %q", result.Title, tt.wantTitle)
			}
			if result.Culprit != tt.wantCulprit {
				t.Errorf("culprit: got %q, want %q", result.Culprit, tt.wantCulprit)
			}
			if tt.wantType != "" && result.Metadata.Type != tt.wantType {
				t.Errorf("metadata type: got %q, want %q", result.Metadata.Type, tt.wantType)
			}
		})
	}
}

func TestGrouper_CulpritTruncation(t *testing.T) {
	g := newTestGrouper(t)
	event := &models.Event{
		Project:     "backend",
		Message:     "boom",
		Transaction: strings.Repeat("x", 500),
	}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if len([]rune(result.Culprit)) != maxCulpritLength {
		t.Errorf("culprit length: got %d, want %d", len([]rune(result.Culprit)), maxCulpritLength)
	}
	if !strings.HasSuffix(result.Culprit, "...") {
		t.Error("truncated culprit should end with ellipsis")
	}
}

func TestGrouper_LevelNormalization(t *testing.T) {
	g := newTestGrouper(t)

	tests := []struct {
		in   string
		want string
	}{
		{"warn", "warning"},
		{"critical", "fatal"},
		{"info", "info"},
		{"nonsense", "error"},
		{"", "error"},
	}

	for _, tt := range tests {
		result, err := g.Grouping(&models.Event{Project: "p", Message: "m", Level: tt.in})
		if err != nil {
			t.Fatalf("Grouping failed: %v", err)
		}
		if result.Level != tt.want {
			t.Errorf("level %q: got %q, want %q", tt.in, result.Level, tt.want)
		}
	}
}
