package llm

import "strings"

// Built-in rates in USD per 1M tokens, (prompt, completion). Unknown models
// cost 0. Last updated 2026-02.
var pricingTable = map[string]map[string][2]float64{
	"openai": {
		"gpt-5":        {1.25, 10.00},
		"gpt-5-mini":   {0.25, 2.00},
		"gpt-5-nano":   {0.05, 0.40},
		"gpt-4o":       {2.50, 10.00},
		"gpt-4o-mini":  {0.15, 0.60},
		"gpt-4.1":      {2.00, 8.00},
		"gpt-4.1-mini": {0.40, 1.60},
		"gpt-4.1-nano": {0.10, 0.40},
		"o3":           {2.00, 8.00},
		"o3-mini":      {1.10, 4.40},
		"o4-mini":      {1.10, 4.40},
	},
	"anthropic": {
		"claude-opus-4-6":   {5.00, 25.00},
		"claude-opus-4-5":   {5.00, 25.00},
		"claude-opus-4-1":   {15.00, 75.00},
		"claude-opus-4":     {15.00, 75.00},
		"claude-sonnet-4-6": {3.00, 15.00},
		"claude-sonnet-4-5": {3.00, 15.00},
		"claude-sonnet-4":   {3.00, 15.00},
		"claude-haiku-4-5":  {1.00, 5.00},
		"claude-haiku-3-5":  {0.80, 4.00},
		"claude-haiku-3":    {0.25, 1.25},
	},
	"gemini": {
		"gemini-3-pro":          {2.00, 12.00},
		"gemini-3-flash":        {0.50, 3.00},
		"gemini-2.5-pro":        {1.25, 10.00},
		"gemini-2.5-flash":      {0.30, 2.50},
		"gemini-2.5-flash-lite": {0.10, 0.40},
		"gemini-2.0-flash":      {0.10, 0.40},
		"gemini-2.0-flash-lite": {0.075, 0.30},
	},
}

// Cache token pricing, as a factor of the prompt rate. Anthropic bills cache
// reads and writes on top of regular input; OpenAI and Gemini discount the
// cached share of the prompt.
const (
	anthropicCacheReadFactor  = 0.10
	anthropicCacheWriteFactor = 1.25
	openAICacheReadFactor     = 0.50
	geminiCacheReadFactor     = 0.25
)

// normalizeModelName strips trailing 8-digit date suffixes like -20250929.
func normalizeModelName(model string) string {
	parts := strings.Split(model, "-")
	for len(parts) > 0 {
		last := parts[len(parts)-1]
		if len(last) != 8 || strings.TrimLeft(last, "0123456789") != "" {
			break
		}
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "-")
}

// PricingTable estimates call costs for known provider/model pairs.
type PricingTable struct{}

// Rate returns (prompt, completion) USD per 1M tokens, or false when the
// model is unknown.
func (PricingTable) Rate(provider, model string) (float64, float64, bool) {
	rates, ok := pricingTable[provider]
	if !ok {
		return 0, 0, false
	}
	if r, ok := rates[model]; ok {
		return r[0], r[1], true
	}
	if r, ok := rates[normalizeModelName(model)]; ok {
		return r[0], r[1], true
	}
	return 0, 0, false
}

// EstimateCost computes the USD cost of one call, applying the per-vendor
// cache discounts. Unknown models cost 0.
func (p PricingTable) EstimateCost(provider, model string, promptTokens, completionTokens, cacheRead, cacheWrite int) float64 {
	promptRate, completionRate, ok := p.Rate(provider, model)
	if !ok {
		return 0
	}

	var promptCost float64
	switch provider {
	case "anthropic":
		// input_tokens excludes cache traffic; reads and writes bill extra.
		promptCost = float64(promptTokens)*promptRate +
			float64(cacheRead)*promptRate*anthropicCacheReadFactor +
			float64(cacheWrite)*promptRate*anthropicCacheWriteFactor
	case "openai":
		promptCost = discountedPromptCost(promptTokens, cacheRead, promptRate, openAICacheReadFactor)
	case "gemini":
		promptCost = discountedPromptCost(promptTokens, cacheRead, promptRate, geminiCacheReadFactor)
	default:
		promptCost = float64(promptTokens) * promptRate
	}
	return (promptCost + float64(completionTokens)*completionRate) / 1_000_000
}

// discountedPromptCost handles vendors whose prompt_tokens already include
// the cached share.
func discountedPromptCost(promptTokens, cacheRead int, rate, cacheFactor float64) float64 {
	uncached := promptTokens - cacheRead
	if uncached < 0 {
		uncached = 0
	}
	return float64(uncached)*rate + float64(cacheRead)*rate*cacheFactor
}
