package fingerprint

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	text := `
# database errors are one issue per tenant
type:"DatabaseError" tags.tier:"premium" -> db-error "{{ tags.tenant }}" title="Database trouble"

module:"django.*" !level:"info" -> {{ default }} django
`
	rs, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("rules: got %d, want 2", len(rs.Rules))
	}

	first := rs.Rules[0]
	if len(first.Matchers) != 2 {
		t.Fatalf("matchers: got %d, want 2", len(first.Matchers))
	}
	if first.Matchers[0].Key != "type" || first.Matchers[0].Pattern != "DatabaseError" {
		t.Errorf("matcher 0: got %+v", first.Matchers[0])
	}
	if first.Matchers[1].Key != "tags.tier" {
		t.Errorf("matcher 1 key: got %q, want tags.tier", first.Matchers[1].Key)
	}
	wantFingerprint := []string{"db-error", "{{ tags.tenant }}"}
	if len(first.Fingerprint) != len(wantFingerprint) {
		t.Fatalf("fingerprint: got %v, want %v", first.Fingerprint, wantFingerprint)
	}
	for i := range wantFingerprint {
		if first.Fingerprint[i] != wantFingerprint[i] {
			t.Errorf("fingerprint[%d]: got %q, want %q", i, first.Fingerprint[i], wantFingerprint[i])
		}
	}
	if first.Attributes["title"] != "Database trouble" {
		t.Errorf("title attribute: got %q", first.Attributes["title"])
	}

	second := rs.Rules[1]
	if !second.Matchers[1].Negated {
		t.Error("second matcher should be negated")
	}
	if second.Fingerprint[0] != "{{ default }}" {
		t.Errorf("fingerprint[0]: got %q, want {{ default }}", second.Fingerprint[0])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{"missing separator", `type:"x" db-error`, "missing ->"},
		{"no matchers", `-> db-error`, "no matchers"},
		{"no fingerprint", `type:"x" ->`, "no fingerprint"},
		{"unknown matcher", `color:"red" -> x`, "unknown matcher"},
		{"empty pattern", `type:"" -> x`, "empty pattern"},
		{"unterminated quote", `type:"x -> y`, "unterminated quote"},
		{"bare tags key", `tags.:"x" -> y`, "unknown matcher"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error: got %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_LineNumbers(t *testing.T) {
	text := "type:\"ok\" -> fine\n\n# comment\nbroken line without arrow\n"
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "line 4") {
		t.Errorf("error should name line 4: got %q", err)
	}
}

func TestRule_Text(t *testing.T) {
	rs, err := Parse(`!type:"Canceled" path:"**/vendor/*" -> vendored "{{ module }}" title="Vendored crash"`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	text := rs.Rules[0].Text()

	// The rendition must itself be parseable
	reparsed, err := Parse(text)
	if err != nil {
		t.Fatalf("reparsing rendition %q failed: %v", text, err)
	}
	if reparsed.Rules[0].Text() != text {
		t.Errorf("rendition not stable: %q vs %q", reparsed.Rules[0].Text(), text)
	}
	if !strings.Contains(text, `!type:"Canceled"`) {
		t.Errorf("rendition missing negated matcher: %q", text)
	}
	if !strings.Contains(text, `title="Vendored crash"`) {
		t.Errorf("rendition missing attribute: %q", text)
	}
}
