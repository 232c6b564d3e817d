package sim

import (
	"bufio"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func newTestAgent(t *testing.T, url string, retries int, mockMode string) *AgentPolicy {
	t.Helper()
	return NewAgentPolicy(AgentConfig{
		Model:       "test-model",
		BaseURL:     url,
		Retries:     retries,
		BackoffBase: 0, // no sleeping in tests
		MockMode:    mockMode,
	}, newTestRules(42))
}

func generateHandler(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		if req["format"] != "json" || req["stream"] != false {
			t.Errorf("request missing format=json/stream=false: %v", req)
		}
		w.Write([]byte(body))
	}
}

func TestAgentPolicy_DirectJSON_ReturnsModelPriority(t *testing.T) {
	// GIVEN an endpoint that embeds clean JSON in the response field
	srv := httptest.NewServer(generateHandler(t, `{"response": "{\"priority\": 2, \"explanation\": \"chest pain\", \"service_min\": 25}"}`))
	defer srv.Close()
	p := newTestAgent(t, srv.URL, 3, "")
	enc := &Encounter{PatientID: "a", EncounterClass: "emergency", ReasonDescription: "chest pain"}

	// WHEN a priority is assigned
	priority, dec := p.AssignPriority(enc)

	// THEN the model's priority and service estimate are used
	if priority != 2 {
		t.Errorf("priority: got %d, want 2", priority)
	}
	if dec.ParseOutcome != "direct" {
		t.Errorf("parse outcome: got %q, want direct", dec.ParseOutcome)
	}
	if dec.FellBack {
		t.Error("unexpected fallback")
	}
	if est, ok := p.EstimateServiceMin(enc, priority); !ok || est != 25 {
		t.Errorf("service estimate: got %.1f/%v, want 25/true", est, ok)
	}
}

func TestAgentPolicy_JSONSubstring_RescuesChattyOutput(t *testing.T) {
	// GIVEN a model that wraps its JSON in prose and quotes the priority
	srv := httptest.NewServer(generateHandler(t, `{"response": "Sure! The assessment is {\"priority\": \"P3\"} based on symptoms."}`))
	defer srv.Close()
	p := newTestAgent(t, srv.URL, 3, "")

	priority, dec := p.AssignPriority(&Encounter{PatientID: "b", ReasonDescription: "stomach ache"})

	if priority != 3 {
		t.Errorf("priority: got %d, want 3", priority)
	}
	if dec.ParseOutcome != "json-substring" {
		t.Errorf("parse outcome: got %q, want json-substring", dec.ParseOutcome)
	}
}

func TestAgentPolicy_PreParsedObject(t *testing.T) {
	// GIVEN an endpoint that returns the model object directly
	srv := httptest.NewServer(generateHandler(t, `{"priority": 4, "explanation": "routine"}`))
	defer srv.Close()
	p := newTestAgent(t, srv.URL, 3, "")

	priority, dec := p.AssignPriority(&Encounter{PatientID: "c"})

	if priority != 4 {
		t.Errorf("priority: got %d, want 4", priority)
	}
	if dec.ParseOutcome != "pre-parsed" {
		t.Errorf("parse outcome: got %q, want pre-parsed", dec.ParseOutcome)
	}
}

func TestAgentPolicy_HTTP500_FallsBackToRules(t *testing.T) {
	// GIVEN an endpoint that always fails
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	p := newTestAgent(t, srv.URL, 3, "")
	enc := &Encounter{PatientID: "d", ReasonDescription: "witnessed cardiac arrest", EncounterClass: "emergency"}

	// WHEN a priority is assigned
	priority, dec := p.AssignPriority(enc)

	// THEN the retry budget is spent and the rule-based fallback decides
	if got := calls.Load(); got != 3 {
		t.Errorf("HTTP attempts: got %d, want 3", got)
	}
	if !dec.FellBack {
		t.Error("expected fallback")
	}
	if dec.Err == "" {
		t.Error("expected the final error to be recorded")
	}
	// Same encounter, same seed: the standalone rules policy must agree.
	want, _ := newTestRules(42).AssignPriority(enc)
	if priority != want {
		t.Errorf("fallback priority: got %d, want %d (rules with same seed)", priority, want)
	}
}

func TestAgentPolicy_InvalidPriority_RetriesThenFallsBack(t *testing.T) {
	// GIVEN an endpoint that returns syntactically valid but out-of-range output
	srv := httptest.NewServer(generateHandler(t, `{"response": "{\"priority\": 9}"}`))
	defer srv.Close()
	p := newTestAgent(t, srv.URL, 2, "")

	priority, dec := p.AssignPriority(&Encounter{PatientID: "e", EncounterClass: "wellness"})

	if priority < MinPriority || priority > MaxPriority {
		t.Fatalf("priority %d outside 1..5", priority)
	}
	if !dec.FellBack {
		t.Error("expected fallback for out-of-range model priority")
	}
	if dec.Attempts != 2 {
		t.Errorf("attempts: got %d, want 2", dec.Attempts)
	}
}

func TestAgentPolicy_Garbage_NeverReturnsInvalidPriority(t *testing.T) {
	bodies := []string{
		`{"response": "I cannot assess this patient."}`,
		`{"response": "{\"priority\": null}"}`,
		`not json at all`,
		`{"response": "{\"priority\": 2.5}"}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(generateHandler(t, body))
		p := newTestAgent(t, srv.URL, 2, "")

		priority, _ := p.AssignPriority(&Encounter{PatientID: "f", EncounterClass: "emergency"})

		if priority < MinPriority || priority > MaxPriority {
			t.Errorf("body %q: priority %d outside 1..5", body, priority)
		}
		srv.Close()
	}
}

func TestAgentPolicy_FallbackResetsServiceEstimate(t *testing.T) {
	// GIVEN a first call that captures a model service estimate
	ok := httptest.NewServer(generateHandler(t, `{"response": "{\"priority\": 1, \"service_min\": 99}"}`))
	defer ok.Close()
	p := newTestAgent(t, ok.URL, 1, "")
	enc := &Encounter{PatientID: "g", AgeYears: 30}
	p.AssignPriority(enc)
	if est, has := p.EstimateServiceMin(enc, 1); !has || est != 99 {
		t.Fatalf("precondition: estimate %.1f/%v, want 99/true", est, has)
	}

	// WHEN the next call fails over to rules
	p.cfg.BaseURL = "http://127.0.0.1:0" // unroutable
	p.client = &http.Client{}
	p.AssignPriority(enc)

	// THEN the stale model estimate is gone and the table answers
	est, has := p.EstimateServiceMin(enc, 1)
	if !has || est != 90 {
		t.Errorf("estimate after fallback: got %.1f/%v, want table value 90/true", est, has)
	}
}

func TestAgentPolicy_MockCycle_RotatesPriorities(t *testing.T) {
	p := newTestAgent(t, "http://unused", 1, "cycle")

	var got []int
	for i := 0; i < 7; i++ {
		priority, dec := p.AssignPriority(&Encounter{PatientID: "h"})
		if dec.ParseOutcome != "mock" {
			t.Fatalf("parse outcome: got %q, want mock", dec.ParseOutcome)
		}
		got = append(got, priority)
	}
	want := []int{1, 2, 3, 4, 5, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycle: got %v, want %v", got, want)
		}
	}
}

func TestAgentPolicy_MockFixed_ForcesLevel(t *testing.T) {
	p := newTestAgent(t, "http://unused", 1, "p2")

	for i := 0; i < 3; i++ {
		priority, _ := p.AssignPriority(&Encounter{PatientID: "i"})
		if priority != 2 {
			t.Fatalf("mock p2: got %d, want 2", priority)
		}
	}
}

func TestBalancedJSONObject(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{`prefix {"a": 1} suffix`, `{"a": 1}`},
		{`{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{`{"s": "brace } in string"} tail`, `{"s": "brace } in string"}`},
		{`no object here`, ``},
		{`{"unterminated": 1`, ``},
	}
	for _, tc := range cases {
		if got := balancedJSONObject(tc.text); got != tc.want {
			t.Errorf("balancedJSONObject(%q): got %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestExtractServiceMin_AcceptedKeys(t *testing.T) {
	cases := []struct {
		obj  map[string]any
		want float64
		ok   bool
	}{
		{map[string]any{"service_min": 30.0}, 30, true},
		{map[string]any{"service_time_min": "45"}, 45, true},
		{map[string]any{"service_minutes": 12.5}, 12.5, true},
		{map[string]any{"service_min": -5.0}, 0, false},
		{map[string]any{"service_min": "soon"}, 0, false},
		{map[string]any{}, 0, false},
	}
	for i, tc := range cases {
		got, ok := extractServiceMin(tc.obj)
		if got != tc.want || ok != tc.ok {
			t.Errorf("case %d: got %.1f/%v, want %.1f/%v", i, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTelemetryWriter_AppendsOneLinePerDecision(t *testing.T) {
	// GIVEN a telemetry writer on a fresh file
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	w := NewTelemetryWriter(path)

	// WHEN two decisions are recorded
	w.Record(Decision{Policy: PolicyAgent, Model: "m", FinalPriority: 2, ModelPriority: 2, ParseOutcome: "direct"})
	w.Record(Decision{Policy: PolicyAgent, Model: "m", FinalPriority: 4, FellBack: true, Err: "HTTP 500"})

	// THEN the file holds one JSON object per line with the run stamped
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening telemetry: %v", err)
	}
	defer f.Close()
	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	if lines[0]["run_id"] == "" || lines[0]["run_id"] != lines[1]["run_id"] {
		t.Error("records must share a non-empty run_id")
	}
	if lines[1]["fell_back"] != true || lines[1]["error"] != "HTTP 500" {
		t.Errorf("fallback record mismatch: %v", lines[1])
	}
}

func TestTelemetryWriter_FailuresAreSwallowed(t *testing.T) {
	// GIVEN a path whose parent is a regular file, so writes cannot succeed
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := NewTelemetryWriter(filepath.Join(blocker, "telemetry.jsonl"))

	// WHEN a decision is recorded; THEN it must not panic or error out
	w.Record(Decision{Policy: PolicyRules, FinalPriority: 3})
}

func TestTelemetryWriter_NilWriterIsValid(t *testing.T) {
	var w *TelemetryWriter
	w.Record(Decision{FinalPriority: 1}) // must be a no-op
	if w.RunID() != "" {
		t.Error("nil writer run ID must be empty")
	}
}

func TestNewTriagePolicy_Factory(t *testing.T) {
	catalog := DefaultCatalog()
	cfg := DefaultTriageConfig()
	rng := rand.New(rand.NewSource(1))

	if _, err := NewTriagePolicy("rules", catalog, cfg, AgentConfig{}, rng); err != nil {
		t.Errorf("rules: %v", err)
	}
	if _, err := NewTriagePolicy("", catalog, cfg, AgentConfig{}, rng); err != nil {
		t.Errorf("empty defaults to rules: %v", err)
	}
	if _, err := NewTriagePolicy("agent", catalog, cfg, AgentConfig{MockMode: "cycle"}, rng); err != nil {
		t.Errorf("agent: %v", err)
	}
	if _, err := NewTriagePolicy("oracle", catalog, cfg, AgentConfig{}, rng); err == nil {
		t.Error("unknown policy name must be rejected")
	}
}
