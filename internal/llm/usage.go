package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/workrecap/workrecap/internal/types"
)

// UsageTracker accumulates token usage and estimated cost per provider/model
// pair. Safe for concurrent use.
type UsageTracker struct {
	pricing PricingTable

	mu     sync.Mutex
	usages map[string]*types.ModelUsage
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{usages: map[string]*types.ModelUsage{}}
}

// Record adds one call's usage under provider/model.
func (t *UsageTracker) Record(provider, model string, usage types.TokenUsage) {
	cost := t.pricing.EstimateCost(provider, model,
		usage.PromptTokens, usage.CompletionTokens,
		usage.CacheReadTokens, usage.CacheWriteTokens)

	key := provider + "/" + model
	t.mu.Lock()
	defer t.mu.Unlock()
	mu, ok := t.usages[key]
	if !ok {
		mu = &types.ModelUsage{Provider: provider, Model: model}
		t.usages[key] = mu
	}
	mu.PromptTokens += usage.PromptTokens
	mu.CompletionTokens += usage.CompletionTokens
	mu.TotalTokens += usage.TotalTokens
	mu.CallCount += usage.CallCount
	mu.CacheReadTokens += usage.CacheReadTokens
	mu.CacheWriteTokens += usage.CacheWriteTokens
	mu.EstimatedCostUSD += cost
}

// ModelUsages returns a snapshot sorted by provider/model key.
func (t *UsageTracker) ModelUsages() []types.ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.usages))
	for k := range t.usages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.ModelUsage, 0, len(keys))
	for _, k := range keys {
		out = append(out, *t.usages[k])
	}
	return out
}

// TotalUsage aggregates across all models.
func (t *UsageTracker) TotalUsage() types.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total types.TokenUsage
	for _, mu := range t.usages {
		total = total.Add(types.TokenUsage{
			PromptTokens:     mu.PromptTokens,
			CompletionTokens: mu.CompletionTokens,
			TotalTokens:      mu.TotalTokens,
			CallCount:        mu.CallCount,
			CacheReadTokens:  mu.CacheReadTokens,
			CacheWriteTokens: mu.CacheWriteTokens,
		})
	}
	return total
}

// FormatReport renders a human-readable usage summary.
func (t *UsageTracker) FormatReport() string {
	usages := t.ModelUsages()
	if len(usages) == 0 {
		return "No LLM usage recorded."
	}

	var b strings.Builder
	b.WriteString("LLM Usage Report:")
	var totalCalls, totalPrompt, totalCompletion, totalTokens, totalCacheRead, totalCacheWrite int
	var totalCost float64

	for _, mu := range usages {
		fmt.Fprintf(&b, "\n  %s / %s: %s, %s+%s=%s tokens%s",
			mu.Provider, mu.Model,
			pluralCalls(mu.CallCount),
			comma(mu.PromptTokens), comma(mu.CompletionTokens), comma(mu.TotalTokens),
			costSuffix(mu.EstimatedCostUSD))
		if mu.CacheReadTokens > 0 || mu.CacheWriteTokens > 0 {
			fmt.Fprintf(&b, "\n    cache: %s read + %s write",
				comma(mu.CacheReadTokens), comma(mu.CacheWriteTokens))
		}
		totalCalls += mu.CallCount
		totalPrompt += mu.PromptTokens
		totalCompletion += mu.CompletionTokens
		totalTokens += mu.TotalTokens
		totalCost += mu.EstimatedCostUSD
		totalCacheRead += mu.CacheReadTokens
		totalCacheWrite += mu.CacheWriteTokens
	}

	if len(usages) > 1 {
		b.WriteString("\n  " + strings.Repeat("─", 50))
		fmt.Fprintf(&b, "\n  Total: %s, %s+%s=%s tokens%s",
			pluralCalls(totalCalls),
			comma(totalPrompt), comma(totalCompletion), comma(totalTokens),
			costSuffix(totalCost))
		if totalCacheRead > 0 || totalCacheWrite > 0 {
			fmt.Fprintf(&b, "\n    cache: %s read + %s write",
				comma(totalCacheRead), comma(totalCacheWrite))
		}
	}
	return b.String()
}

func pluralCalls(n int) string {
	if n == 1 {
		return "1 call"
	}
	return fmt.Sprintf("%d calls", n)
}

func costSuffix(cost float64) string {
	if cost <= 0 {
		return ""
	}
	return fmt.Sprintf(" (~$%.3f)", cost)
}

func comma(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	return s + "," + strings.Join(parts, ",")
}
