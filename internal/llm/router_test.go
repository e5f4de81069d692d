package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/workrecap/workrecap/internal/llm/provider"
	"github.com/workrecap/workrecap/internal/types"
)

// fakeProvider scripts responses and records the calls it receives.
type fakeProvider struct {
	name      string
	responses []string
	calls     []fakeCall
	batchReqs []provider.BatchRequest
}

type fakeCall struct {
	model  string
	system string
	user   string
	opts   provider.ChatOptions
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(_ context.Context, model, system, user string, opts provider.ChatOptions) (string, types.TokenUsage, error) {
	f.calls = append(f.calls, fakeCall{model: model, system: system, user: user, opts: opts})
	text := "ok"
	if len(f.responses) > 0 {
		text = f.responses[0]
		f.responses = f.responses[1:]
	}
	return text, types.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CallCount: 1}, nil
}

func (f *fakeProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "fake-1", Provider: f.name}}, nil
}

func (f *fakeProvider) SubmitBatch(_ context.Context, reqs []provider.BatchRequest) (string, error) {
	f.batchReqs = reqs
	return "batch_1", nil
}

func (f *fakeProvider) GetBatchStatus(context.Context, string) (provider.BatchStatus, error) {
	return provider.BatchCompleted, nil
}

func (f *fakeProvider) GetBatchResults(context.Context, string) ([]provider.BatchResult, error) {
	var out []provider.BatchResult
	for _, req := range f.batchReqs {
		out = append(out, provider.BatchResult{
			CustomID: req.CustomID,
			Content:  "done",
			Usage:    types.TokenUsage{TotalTokens: 9, CallCount: 1},
		})
	}
	return out, nil
}

func testConfig(strategy string) *Config {
	cfg := &Config{
		Providers: map[string]ProviderEntry{"anthropic": {APIKey: "k"}},
		Tasks: map[string]TaskConfig{
			"enrich": {Provider: "anthropic", Model: "base-model", EscalationModel: "big-model", MaxTokens: 2000},
			"query":  {Provider: "anthropic", Model: "base-model"},
		},
	}
	cfg.Strategy.Mode = strategy
	return cfg
}

func TestResolveModelPerStrategy(t *testing.T) {
	tc := TaskConfig{Provider: "anthropic", Model: "base", EscalationModel: "big"}
	cases := []struct {
		strategy  string
		wantModel string
		wantEsc   bool
	}{
		{"economy", "base", false},
		{"fixed", "base", false},
		{"premium", "big", false},
		{"standard", "base", true},
		{"adaptive", "base", true},
	}
	for _, c := range cases {
		_, model, esc := resolveModel(tc, c.strategy)
		if model != c.wantModel || esc != c.wantEsc {
			t.Errorf("%s: got (%s, %v), want (%s, %v)", c.strategy, model, esc, c.wantModel, c.wantEsc)
		}
	}

	// Premium without an escalation model stays on base.
	noEsc := TaskConfig{Provider: "anthropic", Model: "base"}
	if _, model, _ := resolveModel(noEsc, "premium"); model != "base" {
		t.Errorf("premium without escalation model = %s, want base", model)
	}
	// Standard without an escalation model cannot escalate.
	if _, _, esc := resolveModel(noEsc, "standard"); esc {
		t.Error("standard without escalation model must not escalate")
	}
}

func TestRouterChatEconomy(t *testing.T) {
	fake := &fakeProvider{name: "anthropic"}
	r := NewRouter(testConfig("economy"), NewUsageTracker(), nil)
	r.RegisterProvider("anthropic", fake)

	text, err := r.Chat(context.Background(), "enrich", "sys", "user", ChatOptions{JSONMode: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("calls = %d", len(fake.calls))
	}
	call := fake.calls[0]
	if call.model != "base-model" {
		t.Errorf("model = %q", call.model)
	}
	// Task config max_tokens applies when no explicit override.
	if call.opts.MaxTokens != 2000 {
		t.Errorf("max_tokens = %d, want task config 2000", call.opts.MaxTokens)
	}
	if !call.opts.JSONMode {
		t.Error("json mode dropped")
	}
	if r.Usage().TotalTokens != 15 {
		t.Errorf("usage = %+v", r.Usage())
	}
}

func TestRouterMaxTokensOverride(t *testing.T) {
	fake := &fakeProvider{name: "anthropic"}
	r := NewRouter(testConfig("fixed"), nil, nil)
	r.RegisterProvider("anthropic", fake)

	if _, err := r.Chat(context.Background(), "enrich", "s", "u", ChatOptions{MaxTokens: 123}); err != nil {
		t.Fatal(err)
	}
	if fake.calls[0].opts.MaxTokens != 123 {
		t.Errorf("explicit max_tokens not honored: %d", fake.calls[0].opts.MaxTokens)
	}
}

func TestRouterPremiumUsesEscalationModelDirectly(t *testing.T) {
	fake := &fakeProvider{name: "anthropic"}
	r := NewRouter(testConfig("premium"), nil, nil)
	r.RegisterProvider("anthropic", fake)

	if _, err := r.Chat(context.Background(), "enrich", "s", "u", ChatOptions{}); err != nil {
		t.Fatal(err)
	}
	if len(fake.calls) != 1 || fake.calls[0].model != "big-model" {
		t.Errorf("calls = %+v", fake.calls)
	}
}

func TestRouterAdaptiveConfidentAnswerStaysOnBase(t *testing.T) {
	fake := &fakeProvider{
		name:      "anthropic",
		responses: []string{`{"needs_escalation": false, "confidence": 0.95, "reason": "", "response": "confident answer"}`},
	}
	r := NewRouter(testConfig("adaptive"), nil, nil)
	r.RegisterProvider("anthropic", fake)

	text, err := r.Chat(context.Background(), "enrich", "real system", "real user", ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if text != "confident answer" {
		t.Errorf("text = %q", text)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("calls = %d, want 1 (no escalation)", len(fake.calls))
	}
	// The base call carries the lean wrapper, not the real system prompt.
	if fake.calls[0].system == "real system" {
		t.Error("base call should use the self-assessment system prompt")
	}
	if !strings.Contains(fake.calls[0].user, "real system") || !strings.Contains(fake.calls[0].user, "real user") {
		t.Error("wrapped user content should merge the original prompts")
	}
}

func TestRouterAdaptiveEscalatesOnLowConfidence(t *testing.T) {
	fake := &fakeProvider{
		name: "anthropic",
		responses: []string{
			`{"needs_escalation": true, "confidence": 0.4, "reason": "too hard", "response": "weak"}`,
			"strong answer",
		},
	}
	r := NewRouter(testConfig("adaptive"), NewUsageTracker(), nil)
	r.RegisterProvider("anthropic", fake)

	text, err := r.Chat(context.Background(), "enrich", "sys", "user", ChatOptions{MaxTokens: 500})
	if err != nil {
		t.Fatal(err)
	}
	if text != "strong answer" {
		t.Errorf("text = %q", text)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(fake.calls))
	}
	esc := fake.calls[1]
	if esc.model != "big-model" || esc.system != "sys" || esc.opts.MaxTokens != 500 {
		t.Errorf("escalation call = %+v", esc)
	}
	// Both calls are accounted.
	if r.Usage().CallCount != 2 {
		t.Errorf("usage call count = %d", r.Usage().CallCount)
	}
}

func TestRouterAdaptiveGracefulFallbackOnBadJSON(t *testing.T) {
	fake := &fakeProvider{
		name:      "anthropic",
		responses: []string{"plain prose, not the envelope"},
	}
	r := NewRouter(testConfig("adaptive"), nil, nil)
	r.RegisterProvider("anthropic", fake)

	text, err := r.Chat(context.Background(), "enrich", "s", "u", ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if text != "plain prose, not the envelope" {
		t.Errorf("text = %q, want raw fallback", text)
	}
	if len(fake.calls) != 1 {
		t.Errorf("bad JSON must not trigger escalation, calls = %d", len(fake.calls))
	}
}

func TestParseDecisionUnwrapsArray(t *testing.T) {
	d, ok := parseDecision(`[{"needs_escalation": false, "confidence": 0.9, "response": "x"}]`)
	if !ok || d.Response != "x" {
		t.Errorf("parseDecision = %+v ok=%v", d, ok)
	}
	if _, ok := parseDecision(`{"confidence": 0.9}`); ok {
		t.Error("missing response field should fail")
	}
	if _, ok := parseDecision(`{"response": "x"}`); ok {
		t.Error("missing confidence field should fail")
	}
}

func TestRouterBatchNeverEscalates(t *testing.T) {
	fake := &fakeProvider{name: "anthropic"}
	r := NewRouter(testConfig("adaptive"), nil, nil)
	r.RegisterProvider("anthropic", fake)

	id, err := r.SubmitBatch(context.Background(), "enrich", []BatchChatRequest{
		{CustomID: "enrich-2025-03-10", SystemPrompt: "s", UserContent: "u"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "batch_1" {
		t.Errorf("batch id = %q", id)
	}
	if fake.batchReqs[0].Model != "base-model" {
		t.Errorf("batch model = %q, must stay on the base model", fake.batchReqs[0].Model)
	}
	if fake.batchReqs[0].MaxTokens != 2000 {
		t.Errorf("batch max_tokens = %d, want task config fallback", fake.batchReqs[0].MaxTokens)
	}
}

func TestRouterWaitForBatch(t *testing.T) {
	fake := &fakeProvider{name: "anthropic"}
	r := NewRouter(testConfig("fixed"), NewUsageTracker(), nil)
	r.RegisterProvider("anthropic", fake)

	ctx := context.Background()
	if _, err := r.SubmitBatch(ctx, "enrich", []BatchChatRequest{{CustomID: "a"}, {CustomID: "b"}}); err != nil {
		t.Fatal(err)
	}
	results, err := r.WaitForBatch(ctx, "enrich", "batch_1", time.Minute)
	if err != nil {
		t.Fatalf("WaitForBatch: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d", len(results))
	}
	if r.Usage().TotalTokens != 18 {
		t.Errorf("batch usage not recorded: %+v", r.Usage())
	}
}

func TestBatchTimeoutScaling(t *testing.T) {
	if got := BatchTimeout(0); got != 300*time.Second {
		t.Errorf("BatchTimeout(0) = %s", got)
	}
	if got := BatchTimeout(10); got != 600*time.Second {
		t.Errorf("BatchTimeout(10) = %s", got)
	}
	if got := BatchTimeout(100000); got != 14400*time.Second {
		t.Errorf("BatchTimeout cap = %s", got)
	}
}

func TestBatchTimeoutFormula(t *testing.T) {
	for _, size := range []int{1, 7, 470} {
		want := time.Duration(300+30*size) * time.Second
		if want > 14400*time.Second {
			want = 14400 * time.Second
		}
		if got := BatchTimeout(size); got != want {
			t.Errorf("BatchTimeout(%d) = %s, want %s", size, got, want)
		}
	}
}

func TestRouterUnknownTaskFallsBackToDefault(t *testing.T) {
	cfg := testConfig("fixed")
	cfg.Tasks["default"] = TaskConfig{Provider: "anthropic", Model: "default-model"}
	fake := &fakeProvider{name: "anthropic"}
	r := NewRouter(cfg, nil, nil)
	r.RegisterProvider("anthropic", fake)

	if _, err := r.Chat(context.Background(), "nonexistent", "s", "u", ChatOptions{}); err != nil {
		t.Fatal(err)
	}
	if fake.calls[0].model != "default-model" {
		t.Errorf("model = %q", fake.calls[0].model)
	}
}

func TestRouterErrorsWrapSummarizeError(t *testing.T) {
	r := NewRouter(testConfig("fixed"), nil, nil)
	_, err := r.Chat(context.Background(), "unconfigured-task", "s", "u", ChatOptions{})
	if err == nil {
		t.Fatal("want error")
	}
	var se *SummarizeError
	if !errors.As(err, &se) {
		t.Errorf("err = %T, want *SummarizeError", err)
	}
}
