package grouping

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fidde/groupsink/internal/grouping/fingerprint"
	"github.com/fidde/groupsink/pkg/models"
)

func newTestGrouper(t *testing.T, opts ...Option) *Grouper {
	t.Helper()
	return New(ConfigByID(DefaultConfigID), opts...)
}

func exceptionEvent() *models.Event {
	return &models.Event{
		EventID:  "a1b2",
		Project:  "backend",
		Platform: "python",
		Level:    "error",
		Exceptions: []models.Exception{
			{
				Type:  "DatabaseUnavailable",
				Value: "connection refused to 10.0.0.17:5432",
				Stacktrace: []models.Frame{
					{Module: "django.core.handlers", Function: "get_response", InApp: false},
					{Module: "myapp.views", Function: "checkout", InApp: true},
					{Module: "myapp.db", Function: "connect", InApp: true},
				},
			},
		},
	}
}

func TestGrouper_MessageEvent(t *testing.T) {
	g := newTestGrouper(t)
	event := &models.Event{EventID: "m1", Project: "backend", Message: "worker crashed"}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	system := result.Variants[VariantSystem]
	if !system.Contributes() {
		t.Error("system variant should contribute for message events")
	}
	app := result.Variants[VariantApp]
	if app.Contributes() {
		t.Error("app variant should not contribute without a stacktrace")
	}
	if _, ok := app.Hash(); ok {
		t.Error("non-contributing app variant must not produce a hash")
	}

	if len(result.Hashes) != 1 {
		t.Fatalf("Hashes length: got %d, want 1", len(result.Hashes))
	}
	systemHash, _ := system.Hash()
	if result.PrimaryHash() != systemHash {
		t.Errorf("primary hash: got %s, want system hash %s", result.PrimaryHash(), systemHash)
	}
}

func TestGrouper_MessageNormalization(t *testing.T) {
	g := newTestGrouper(t)

	tests := []struct {
		name     string
		messageA string
		messageB string
		same     bool
	}{
		{"differing ints", "failed after 3 retries", "failed after 17 retries", true},
		{"differing uuids", "job 550e8400-e29b-41d4-a716-446655440000 lost", "job 6ba7b810-9dad-11d1-80b4-00c04fd430c8 lost", true},
		{"differing words", "failed to connect", "refused to connect", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := g.Grouping(&models.Event{Project: "p", Message: tt.messageA})
			if err != nil {
				t.Fatalf("Grouping failed: %v", err)
			}
			b, err := g.Grouping(&models.Event{Project: "p", Message: tt.messageB})
			if err != nil {
				t.Fatalf("Grouping failed: %v", err)
			}
			if (a.PrimaryHash() == b.PrimaryHash()) != tt.same {
				t.Errorf("hash equality: got %v, want %v", a.PrimaryHash() == b.PrimaryHash(), tt.same)
			}
		})
	}
}

func TestGrouper_ExceptionEvent(t *testing.T) {
	g := newTestGrouper(t)

	result, err := g.Grouping(exceptionEvent())
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	appHash, ok := result.Variants[VariantApp].Hash()
	if !ok {
		t.Fatal("app variant should contribute with in-app frames")
	}
	systemHash, ok := result.Variants[VariantSystem].Hash()
	if !ok {
		t.Fatal("system variant should contribute")
	}
	if appHash == systemHash {
		t.Error("app and system should differ when non-app frames exist")
	}

	if len(result.Hashes) != 2 {
		t.Fatalf("Hashes length: got %d, want 2", len(result.Hashes))
	}
	if result.Hashes[0] != appHash || result.Hashes[1] != systemHash {
		t.Errorf("hash order: got %v, want [app system]", result.Hashes)
	}
}

func TestGrouper_Determinism(t *testing.T) {
	g := newTestGrouper(t)

	first, err := g.Grouping(exceptionEvent())
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := g.Grouping(exceptionEvent())
		if err != nil {
			t.Fatalf("Grouping failed: %v", err)
		}
		if again.PrimaryHash() != first.PrimaryHash() {
			t.Fatalf("run %d: hash %s, want %s", i, again.PrimaryHash(), first.PrimaryHash())
		}
	}
}

func TestGrouper_FullyInAppCollapses(t *testing.T) {
	g := newTestGrouper(t)
	event := exceptionEvent()
	for i := range event.Exceptions[0].Stacktrace {
		event.Exceptions[0].Stacktrace[i].InApp = true
	}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	// All frames contribute to both variants, so the hashes collapse
	if len(result.Hashes) != 1 {
		t.Errorf("Hashes length: got %d, want 1 (app == system)", len(result.Hashes))
	}
}

func TestGrouper_NoInAppFrames(t *testing.T) {
	g := newTestGrouper(t)
	event := exceptionEvent()
	for i := range event.Exceptions[0].Stacktrace {
		event.Exceptions[0].Stacktrace[i].InApp = false
	}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	app := result.Variants[VariantApp]
	if app.Contributes() {
		t.Error("app variant should defer when no frame is in-app")
	}
	if len(result.Hashes) != 1 {
		t.Errorf("Hashes length: got %d, want 1", len(result.Hashes))
	}
}

func TestGrouper_ClientFingerprint(t *testing.T) {
	g := newTestGrouper(t)
	event := exceptionEvent()
	event.Fingerprint = []string{"database-outage"}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	custom, ok := result.Variants[VariantCustomFingerprint]
	if !ok {
		t.Fatal("custom_fingerprint variant missing")
	}
	if custom.Type != VariantTypeBuiltFromClient {
		t.Errorf("variant type: got %s, want %s", custom.Type, VariantTypeBuiltFromClient)
	}
	if len(custom.Values) != 1 || custom.Values[0] != "database-outage" {
		t.Errorf("values: got %v, want [database-outage]", custom.Values)
	}

	for _, name := range []string{VariantApp, VariantSystem} {
		v := result.Variants[name]
		if v.Contributes() {
			t.Errorf("%s variant should be suppressed by custom fingerprint", name)
		}
		if !strings.Contains(v.Hint, "client fingerprint takes precedence") {
			t.Errorf("%s hint: got %q", name, v.Hint)
		}
	}

	if len(result.Hashes) != 1 {
		t.Fatalf("Hashes length: got %d, want 1", len(result.Hashes))
	}

	// Same fingerprint, completely different exception: same group
	other := &models.Event{Project: "backend", Message: "unrelated", Fingerprint: []string{"database-outage"}}
	otherResult, err := g.Grouping(other)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if otherResult.PrimaryHash() != result.PrimaryHash() {
		t.Error("identical custom fingerprints should produce identical hashes")
	}
}

func TestGrouper_ClientFingerprintTemplates(t *testing.T) {
	g := newTestGrouper(t)
	event := exceptionEvent()
	event.Tags = map[string]string{"region": "eu-1"}
	event.Fingerprint = []string{"{{ type }}", "{{ tags.region }}", "{{ tags.missing }}"}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	custom := result.Variants[VariantCustomFingerprint]
	want := []string{"DatabaseUnavailable", "eu-1", "<unknown>"}
	if len(custom.Values) != len(want) {
		t.Fatalf("values: got %v, want %v", custom.Values, want)
	}
	for i := range want {
		if custom.Values[i] != want[i] {
			t.Errorf("values[%d]: got %q, want %q", i, custom.Values[i], want[i])
		}
	}
}

func TestGrouper_SaltedFingerprint(t *testing.T) {
	g := newTestGrouper(t)

	plain, err := g.Grouping(exceptionEvent())
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	event := exceptionEvent()
	event.Fingerprint = []string{"{{ default }}", "tenant-42"}
	salted, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	app := salted.Variants[VariantApp]
	if app.Type != VariantTypeSalted {
		t.Errorf("app variant type: got %s, want %s", app.Type, VariantTypeSalted)
	}
	if !app.Contributes() {
		t.Error("salted app variant should still contribute")
	}
	if salted.PrimaryHash() == plain.PrimaryHash() {
		t.Error("salt must change the hash")
	}
	if _, ok := salted.Variants[VariantCustomFingerprint]; ok {
		t.Error("salted grouping must not produce a custom_fingerprint variant")
	}
}

func TestGrouper_PlainDefaultFingerprint(t *testing.T) {
	g := newTestGrouper(t)

	plain, err := g.Grouping(exceptionEvent())
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	event := exceptionEvent()
	event.Fingerprint = []string{"{{ default }}"}
	defaulted, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	if defaulted.PrimaryHash() != plain.PrimaryHash() {
		t.Error("a bare {{ default }} fingerprint must not change grouping")
	}
}

func TestGrouper_ServerRuleWins(t *testing.T) {
	ruleset, err := fingerprint.Parse(`type:"DatabaseUnavailable" -> database-down title="Database down"`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	g := newTestGrouper(t, WithRules(map[string]*fingerprint.Ruleset{"": ruleset}))

	event := exceptionEvent()
	event.Fingerprint = []string{"client-side-opinion"}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	custom := result.Variants[VariantCustomFingerprint]
	if custom.Type != VariantTypeCustom {
		t.Errorf("variant type: got %s, want %s (server rule beats client)", custom.Type, VariantTypeCustom)
	}
	if len(custom.Values) != 1 || custom.Values[0] != "database-down" {
		t.Errorf("values: got %v, want [database-down]", custom.Values)
	}
	if custom.MatchedRule == "" || !strings.Contains(custom.MatchedRule, "DatabaseUnavailable") {
		t.Errorf("matched rule: got %q", custom.MatchedRule)
	}
	if result.Title != "Database down" {
		t.Errorf("title: got %q, want rule title override", result.Title)
	}
}

func TestGrouper_ProjectRules(t *testing.T) {
	backendRules, _ := fingerprint.Parse(`level:"error" -> backend-errors`)
	defaultRules, _ := fingerprint.Parse(`level:"error" -> all-errors`)
	g := newTestGrouper(t, WithRules(map[string]*fingerprint.Ruleset{
		"backend": backendRules,
		"":        defaultRules,
	}))

	backend, err := g.Grouping(&models.Event{Project: "backend", Level: "error", Message: "boom"})
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if got := backend.Variants[VariantCustomFingerprint].Values[0]; got != "backend-errors" {
		t.Errorf("backend project rule: got %q, want backend-errors", got)
	}

	other, err := g.Grouping(&models.Event{Project: "mobile", Level: "error", Message: "boom"})
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if got := other.Variants[VariantCustomFingerprint].Values[0]; got != "all-errors" {
		t.Errorf("fallback rule: got %q, want all-errors", got)
	}
}

func TestGrouper_DefaultRulesApplyAfterProjectRules(t *testing.T) {
	backendRules, _ := fingerprint.Parse(`level:"fatal" -> backend-fatals`)
	defaultRules, _ := fingerprint.Parse(`level:"error" -> all-errors`)
	g := newTestGrouper(t, WithRules(map[string]*fingerprint.Ruleset{
		"backend": backendRules,
		"":        defaultRules,
	}))

	// The project ruleset doesn't match, so the defaults get their turn
	result, err := g.Grouping(&models.Event{Project: "backend", Level: "error", Message: "boom"})
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	custom, ok := result.Variants[VariantCustomFingerprint]
	if !ok {
		t.Fatal("expected the default ruleset to produce a custom fingerprint variant")
	}
	if got := custom.Values[0]; got != "all-errors" {
		t.Errorf("default rule: got %q, want all-errors", got)
	}

	// When both match, the project rule wins
	result, err = g.Grouping(&models.Event{Project: "backend", Level: "fatal", Message: "boom"})
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if got := result.Variants[VariantCustomFingerprint].Values[0]; got != "backend-fatals" {
		t.Errorf("project rule: got %q, want backend-fatals", got)
	}
}

func TestGrouper_RecursionDetection(t *testing.T) {
	recursive := func() *models.Event {
		return &models.Event{
			Project: "backend",
			Exceptions: []models.Exception{
				{
					Type: "StackOverflowError",
					Stacktrace: []models.Frame{
						{Module: "app", Function: "descend", Filename: "app.go", InApp: true},
						{Module: "app", Function: "descend", Filename: "app.go", InApp: true},
						{Module: "app", Function: "descend", Filename: "app.go", InApp: true},
					},
				},
			},
		}
	}
	single := &models.Event{
		Project: "backend",
		Exceptions: []models.Exception{
			{
				Type: "StackOverflowError",
				Stacktrace: []models.Frame{
					{Module: "app", Function: "descend", Filename: "app.go", InApp: true},
				},
			},
		},
	}

	detecting := New(ConfigByID("newstyle:2023-01-11"))
	a, err := detecting.Grouping(recursive())
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	b, err := detecting.Grouping(single)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if a.PrimaryHash() != b.PrimaryHash() {
		t.Error("recursion detection should collapse repeated frames")
	}

	legacy := New(ConfigByID("newstyle:2019-05-08"))
	c, err := legacy.Grouping(recursive())
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if c.PrimaryHash() == b.PrimaryHash() {
		t.Error("legacy config should keep repeated frames distinct")
	}
}

func TestGrouper_ChainedExceptions(t *testing.T) {
	g := newTestGrouper(t)

	single := exceptionEvent()
	chained := exceptionEvent()
	chained.Exceptions = append([]models.Exception{
		{Type: "ConnectionError", Value: "socket closed"},
	}, chained.Exceptions...)

	a, err := g.Grouping(single)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	b, err := g.Grouping(chained)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	aSystem, _ := a.Variants[VariantSystem].Hash()
	bSystem, _ := b.Variants[VariantSystem].Hash()
	if aSystem == bSystem {
		t.Error("adding a cause exception should change the system hash")
	}

	// The cause has no frames, so the app grouping stays stable
	aApp, _ := a.Variants[VariantApp].Hash()
	bApp, _ := b.Variants[VariantApp].Hash()
	if aApp != bApp {
		t.Error("a frameless cause should not change the app hash")
	}
}

func TestGrouper_ContextLinePlatforms(t *testing.T) {
	g := newTestGrouper(t)

	withContext := func(platform string) *models.Event {
		return &models.Event{
			Project:  "frontend",
			Platform: platform,
			Exceptions: []models.Exception{
				{
					Type: "TypeError",
					Stacktrace: []models.Frame{
						{Filename: "app.js", Function: "render", ContextLine: "return items.map(f)", InApp: true},
					},
				},
			},
		}
	}

	js, err := g.Grouping(withContext("javascript"))
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	jsChanged := withContext("javascript")
	jsChanged.Exceptions[0].Stacktrace[0].ContextLine = "return items.filter(f)"
	js2, err := g.Grouping(jsChanged)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if js.PrimaryHash() == js2.PrimaryHash() {
		t.Error("context line should affect javascript hashing")
	}

	native, err := g.Grouping(withContext("csharp"))
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	nativeChanged := withContext("csharp")
	nativeChanged.Exceptions[0].Stacktrace[0].ContextLine = "return items.filter(f)"
	native2, err := g.Grouping(nativeChanged)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}
	if native.PrimaryHash() != native2.PrimaryHash() {
		t.Error("context line should not affect csharp hashing")
	}
}

func TestGrouper_NilEvent(t *testing.T) {
	g := newTestGrouper(t)
	if _, err := g.Grouping(nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestVariant_JSONNullHash(t *testing.T) {
	g := newTestGrouper(t)
	event := exceptionEvent()
	event.Fingerprint = []string{"pinned"}

	result, err := g.Grouping(event)
	if err != nil {
		t.Fatalf("Grouping failed: %v", err)
	}

	data, err := json.Marshal(result.Variants[VariantApp])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if hash, present := decoded["hash"]; !present || hash != nil {
		t.Errorf("suppressed variant hash: got %v, want null", hash)
	}
	if decoded["contributes"] != false {
		t.Error("suppressed variant should report contributes=false")
	}
}
