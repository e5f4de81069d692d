package llm

import (
	"math"
	"strings"
	"testing"

	"github.com/workrecap/workrecap/internal/types"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNormalizeModelName(t *testing.T) {
	cases := map[string]string{
		"claude-haiku-4-5-20251001": "claude-haiku-4-5",
		"claude-sonnet-4-6":         "claude-sonnet-4-6",
		"gpt-4o-mini":               "gpt-4o-mini",
	}
	for in, want := range cases {
		if got := normalizeModelName(in); got != want {
			t.Errorf("normalizeModelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEstimateCostUnknownModelIsZero(t *testing.T) {
	var p PricingTable
	if cost := p.EstimateCost("openai", "some-custom-model", 1000, 1000, 0, 0); cost != 0 {
		t.Errorf("cost = %f, want 0", cost)
	}
	if cost := p.EstimateCost("custom", "llama3", 1000, 1000, 0, 0); cost != 0 {
		t.Errorf("cost = %f, want 0", cost)
	}
}

func TestEstimateCostPlain(t *testing.T) {
	var p PricingTable
	// gpt-4o-mini: 0.15 in / 0.60 out per 1M.
	got := p.EstimateCost("openai", "gpt-4o-mini", 1_000_000, 1_000_000, 0, 0)
	if !approx(got, 0.75) {
		t.Errorf("cost = %f, want 0.75", got)
	}
}

func TestEstimateCostAnthropicCache(t *testing.T) {
	var p PricingTable
	// claude-haiku-4-5: 1.00 in / 5.00 out. Cache read 10%, write 125% of
	// the input rate, billed on top of regular input tokens.
	got := p.EstimateCost("anthropic", "claude-haiku-4-5", 100_000, 0, 1_000_000, 100_000)
	want := (100_000*1.00 + 1_000_000*0.10 + 100_000*1.25) / 1_000_000
	if !approx(got, want) {
		t.Errorf("cost = %f, want %f", got, want)
	}
}

func TestEstimateCostOpenAICachedShareDiscounted(t *testing.T) {
	var p PricingTable
	// gpt-4o: 2.50 in / 10.00 out. prompt_tokens includes the cached share,
	// which bills at 50%.
	got := p.EstimateCost("openai", "gpt-4o", 1_000_000, 0, 400_000, 0)
	want := (600_000*2.50 + 400_000*1.25) / 1_000_000
	if !approx(got, want) {
		t.Errorf("cost = %f, want %f", got, want)
	}
}

func TestEstimateCostGeminiCachedShareDiscounted(t *testing.T) {
	var p PricingTable
	// gemini-2.5-flash: 0.30 in. Cached share bills at 25%.
	got := p.EstimateCost("gemini", "gemini-2.5-flash", 1_000_000, 0, 1_000_000, 0)
	want := 1_000_000 * 0.30 * 0.25 / 1_000_000
	if !approx(got, want) {
		t.Errorf("cost = %f, want %f", got, want)
	}
}

func TestEstimateCostDateSuffixModel(t *testing.T) {
	var p PricingTable
	with := p.EstimateCost("anthropic", "claude-haiku-4-5-20251001", 1_000_000, 0, 0, 0)
	without := p.EstimateCost("anthropic", "claude-haiku-4-5", 1_000_000, 0, 0, 0)
	if !approx(with, without) || with == 0 {
		t.Errorf("dated model cost %f != plain %f", with, without)
	}
}

func TestUsageTrackerAggregates(t *testing.T) {
	tr := NewUsageTracker()
	tr.Record("openai", "gpt-4o-mini", types.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, CallCount: 1})
	tr.Record("openai", "gpt-4o-mini", types.TokenUsage{PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300, CallCount: 1})
	tr.Record("anthropic", "claude-haiku-4-5", types.TokenUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20, CallCount: 1, CacheReadTokens: 5})

	usages := tr.ModelUsages()
	if len(usages) != 2 {
		t.Fatalf("model usages = %d", len(usages))
	}
	// Sorted by provider/model key: anthropic first.
	if usages[0].Provider != "anthropic" || usages[1].CallCount != 2 {
		t.Errorf("usages = %+v", usages)
	}
	if usages[1].PromptTokens != 300 || usages[1].TotalTokens != 450 {
		t.Errorf("openai aggregate = %+v", usages[1])
	}

	total := tr.TotalUsage()
	if total.CallCount != 3 || total.TotalTokens != 470 {
		t.Errorf("total = %+v", total)
	}
}

func TestUsageTrackerReport(t *testing.T) {
	tr := NewUsageTracker()
	if got := tr.FormatReport(); got != "No LLM usage recorded." {
		t.Errorf("empty report = %q", got)
	}

	tr.Record("openai", "gpt-4o-mini", types.TokenUsage{PromptTokens: 1500, CompletionTokens: 500, TotalTokens: 2000, CallCount: 2})
	report := tr.FormatReport()
	for _, want := range []string{"LLM Usage Report:", "openai / gpt-4o-mini", "2 calls", "1,500+500=2,000 tokens"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}
