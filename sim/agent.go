package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AgentConfig configures the model-backed triage policy.
type AgentConfig struct {
	Model            string        // model name sent in the request body
	BaseURL          string        // server base URL, e.g. "http://localhost:11434"
	Timeout          time.Duration // per-request HTTP timeout
	Retries          int           // total HTTP attempts (>= 1)
	BackoffBase      time.Duration // first backoff step; doubled per attempt
	BackoffCap       time.Duration // upper bound on a single backoff sleep
	Options          AgentOptions  // generation options
	ExplanationWords int           // target explanation length requested from the model
	// MockMode short-circuits the HTTP call for offline runs and tests:
	// "cycle" rotates priorities 1..5, "p1".."p5" force a fixed level.
	MockMode string
}

// applyDefaults fills zero-valued knobs so a partially-populated config
// still behaves sensibly.
func (c *AgentConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = "phi:2.7b"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 4 * time.Second
	}
	if c.ExplanationWords <= 0 {
		c.ExplanationWords = 32
	}
}

// AgentPolicy delegates triage to a remote text-generation endpoint. Each
// assignment builds a prompt from the encounter, POSTs it, parses the
// response strictly as JSON (with a balanced-substring rescue pass) and
// validates the priority. Network errors, timeouts, unparsable responses
// and out-of-range priorities are retried up to the configured budget with
// capped exponential backoff; when the budget is exhausted the policy falls
// back unconditionally to its rule-based fallback, so the engine always
// receives a valid priority.
type AgentPolicy struct {
	cfg      AgentConfig
	fallback *RuleBasedPolicy
	client   *http.Client

	mu sync.Mutex
	// last model-provided service estimate, consumed by the next
	// EstimateServiceMin call on this instance. Guarded so a shared
	// instance stays safe if callers ever run patients on real goroutines.
	lastServiceMin    float64
	hasLastServiceMin bool
	mockIdx           int
}

// NewAgentPolicy creates a model-backed policy with the given rule-based
// fallback. The fallback must not be nil: the fallback guarantee is what
// makes AssignPriority total.
func NewAgentPolicy(cfg AgentConfig, fallback *RuleBasedPolicy) *AgentPolicy {
	if fallback == nil {
		panic("NewAgentPolicy: fallback must not be nil")
	}
	cfg.applyDefaults()
	return &AgentPolicy{
		cfg:      cfg,
		fallback: fallback,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// generateRequest is the wire body for the generate-style endpoint.
type generateRequest struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Format  string       `json:"format"`
	Stream  bool         `json:"stream"`
	Options AgentOptions `json:"options"`
}

// AssignPriority runs the attempt/retry/fallback flow and always returns a
// valid priority in 1..5.
func (p *AgentPolicy) AssignPriority(enc *Encounter) (int, Decision) {
	started := time.Now()
	dec := Decision{
		Policy:         PolicyAgent,
		Model:          p.cfg.Model,
		EncounterClass: enc.EncounterClass,
		Reason:         enc.ReasonDescription,
	}

	prompt := p.buildPrompt(enc)

	var lastErr error
	for attempt := 0; attempt < p.cfg.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.backoff(attempt))
		}
		dec.Attempts = attempt + 1

		obj, outcome, httpMs, err := p.callModel(prompt)
		dec.ParseOutcome = outcome
		dec.HTTPMillis = httpMs
		if err == nil {
			priority, ok := extractPriority(obj)
			if !ok {
				err = fmt.Errorf("model returned invalid or missing priority: %v", obj["priority"])
			} else {
				serviceMin, hasService := extractServiceMin(obj)
				p.setLastServiceMin(serviceMin, hasService)

				dec.ModelPriority = priority
				dec.FinalPriority = priority
				dec.ServiceMin = serviceMin
				dec.HasServiceMin = hasService
				dec.Explanation = extractExplanation(obj)
				dec.TotalMillis = time.Since(started).Milliseconds()
				logrus.Debugf("agent: %s -> P%d (model=%s, parse=%s, attempt %d)",
					enc.PatientID, priority, p.cfg.Model, outcome, attempt+1)
				return priority, dec
			}
		}

		lastErr = err
		logrus.Warnf("agent: attempt %d/%d for %s failed: %v", attempt+1, p.cfg.Retries, enc.PatientID, err)
	}

	// Retry budget exhausted: resolve via the rule-based fallback. This
	// path never fails to produce a valid priority.
	p.setLastServiceMin(0, false)
	priority, fbDec := p.fallback.AssignPriority(enc)
	dec.FinalPriority = priority
	dec.Rule = fbDec.Rule
	dec.FellBack = true
	dec.ParseOutcome = "error"
	dec.Err = lastErr.Error()
	dec.TotalMillis = time.Since(started).Milliseconds()
	logrus.Errorf("agent: falling back to rules for %s after %d attempts: %v", enc.PatientID, p.cfg.Retries, lastErr)
	return priority, dec
}

// PriorityInfo delegates to the fallback's shared catalog.
func (p *AgentPolicy) PriorityInfo(level int) (PriorityInfo, error) {
	return p.fallback.PriorityInfo(level)
}

// EstimateServiceMin returns the model-provided estimate captured by the
// last AssignPriority call on this instance, else the fallback's table.
func (p *AgentPolicy) EstimateServiceMin(enc *Encounter, priority int) (float64, bool) {
	p.mu.Lock()
	serviceMin, ok := p.lastServiceMin, p.hasLastServiceMin
	p.mu.Unlock()
	if ok {
		return serviceMin, true
	}
	return p.fallback.EstimateServiceMin(enc, priority)
}

func (p *AgentPolicy) setLastServiceMin(v float64, ok bool) {
	p.mu.Lock()
	p.lastServiceMin, p.hasLastServiceMin = v, ok
	p.mu.Unlock()
}

// backoff returns the sleep before the given retry attempt (1-based),
// doubling from BackoffBase up to BackoffCap.
func (p *AgentPolicy) backoff(attempt int) time.Duration {
	if p.cfg.BackoffBase <= 0 {
		return 0
	}
	d := p.cfg.BackoffBase << (attempt - 1)
	if d > p.cfg.BackoffCap {
		d = p.cfg.BackoffCap
	}
	return d
}

// buildPrompt embeds encounter class, reason and recent history and asks for
// a single-line JSON object.
func (p *AgentPolicy) buildPrompt(enc *Encounter) string {
	var sb strings.Builder
	sb.WriteString("You are an emergency department triage nurse. Assign a triage priority ")
	sb.WriteString("from 1 (immediate, life threat) to 5 (non-urgent) for this patient.\n")
	fmt.Fprintf(&sb, "Encounter class: %s\n", enc.EncounterClass)
	fmt.Fprintf(&sb, "Reason for visit: %s\n", enc.ReasonDescription)
	if enc.PatientHistory != "" {
		fmt.Fprintf(&sb, "Recent history: %s\n", enc.PatientHistory)
	}
	fmt.Fprintf(&sb, "Respond with a single-line JSON object: "+
		`{"priority": <1-5>, "explanation": "<about %d words>", "service_min": <optional minutes>}`,
		p.cfg.ExplanationWords)
	return sb.String()
}

// callModel performs one HTTP attempt (or a mock short-circuit) and returns
// the parsed response object, the parse outcome label, and the HTTP
// round-trip in milliseconds.
func (p *AgentPolicy) callModel(prompt string) (map[string]any, string, int64, error) {
	if p.cfg.MockMode != "" {
		return p.mockResponse(), "mock", 0, nil
	}

	body, err := json.Marshal(generateRequest{
		Model:   p.cfg.Model,
		Prompt:  prompt,
		Format:  "json",
		Stream:  false,
		Options: p.cfg.Options,
	})
	if err != nil {
		return nil, "error", 0, fmt.Errorf("encoding request: %w", err)
	}

	t0 := time.Now()
	resp, err := p.client.Post(p.cfg.BaseURL+"/api/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, "error", time.Since(t0).Milliseconds(), fmt.Errorf("calling generate endpoint: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	httpMs := time.Since(t0).Milliseconds()
	if err != nil {
		return nil, "error", httpMs, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "error", httpMs, fmt.Errorf("generate endpoint returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	obj, outcome, err := parseModelResponse(raw)
	return obj, outcome, httpMs, err
}

// mockResponse synthesizes a model reply without a server dependency.
func (p *AgentPolicy) mockResponse() map[string]any {
	priority := 0
	switch p.cfg.MockMode {
	case "p1", "p2", "p3", "p4", "p5":
		priority = int(p.cfg.MockMode[1] - '0')
	default: // "cycle"
		p.mu.Lock()
		priority = p.mockIdx%MaxPriority + 1
		p.mockIdx++
		p.mu.Unlock()
	}
	return map[string]any{
		"priority":    float64(priority),
		"explanation": "mock:" + p.cfg.MockMode,
	}
}

// parseModelResponse normalizes the server reply. The endpoint returns
// either {"response": "<json-text>"} with the model output embedded as text,
// or a pre-parsed JSON object. Embedded text is parsed strictly first; on
// failure the first balanced {...} substring is tried. Anything beyond that
// is a hard parse error.
func parseModelResponse(raw []byte) (map[string]any, string, error) {
	var outer map[string]any
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, "error", fmt.Errorf("response is not JSON: %w", err)
	}

	text, hasText := outer["response"].(string)
	if !hasText {
		// Pre-parsed object from the model.
		return outer, "pre-parsed", nil
	}
	text = strings.TrimSpace(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, "direct", nil
	}

	if sub := balancedJSONObject(text); sub != "" {
		if err := json.Unmarshal([]byte(sub), &obj); err == nil {
			return obj, "json-substring", nil
		}
	}

	return nil, "error", fmt.Errorf("unparsable model output: %s", truncate(text, 300))
}

// balancedJSONObject returns the first balanced {...} substring of text,
// respecting string literals and escapes, or "" if none exists.
func balancedJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

var priorityDigit = regexp.MustCompile(`[1-5]`)

// extractPriority coerces the "priority" field to an int in 1..5. Numeric
// strings and strings containing a single valid digit (e.g. "P2") are
// accepted; anything else invalidates the whole response.
func extractPriority(obj map[string]any) (int, bool) {
	switch v := obj["priority"].(type) {
	case float64:
		n := int(v)
		if float64(n) == v && n >= MinPriority && n <= MaxPriority {
			return n, true
		}
	case string:
		if m := priorityDigit.FindString(v); m != "" {
			n, _ := strconv.Atoi(m)
			return n, true
		}
	}
	return 0, false
}

// serviceMinKeys are the accepted aliases for a model-provided service time.
var serviceMinKeys = []string{"service_min", "service_time_min", "service_minutes"}

// extractServiceMin pulls a positive service duration from the response if
// one is present under any accepted key.
func extractServiceMin(obj map[string]any) (float64, bool) {
	for _, key := range serviceMinKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n > 0 {
				return n, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && f > 0 {
				return f, true
			}
		}
	}
	return 0, false
}

func extractExplanation(obj map[string]any) string {
	if s, ok := obj["explanation"].(string); ok {
		return s
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
