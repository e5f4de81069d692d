package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/workrecap/workrecap/internal/llm/provider"
	"github.com/workrecap/workrecap/internal/types"
)

// ConfidenceThreshold is the self-assessed confidence below which the
// escalation model takes over.
const ConfidenceThreshold = 0.7

const escalationSystem = `Complete the user's task and self-assess. Respond with JSON:
{"needs_escalation": bool, "confidence": 0.0-1.0, "reason": "...", "response": "your answer"}`

const escalationUserTemplate = `Instructions: %s

---

%s`

// escalationHandler runs the adaptive protocol: the base model answers with
// a self-assessment wrapper; a low-confidence answer that asks for help is
// redone by the escalation model. A malformed wrapper falls back to the raw
// base response.
type escalationHandler struct {
	baseProvider       provider.Provider
	baseModel          string
	escalationProvider provider.Provider
	escalationModel    string
}

type escalationDecision struct {
	NeedsEscalation bool    `json:"needs_escalation"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	Response        string  `json:"response"`
}

func (h *escalationHandler) chat(ctx context.Context, systemPrompt, userContent string, opts provider.ChatOptions) (string, types.TokenUsage, error) {
	wrappedUser := fmt.Sprintf(escalationUserTemplate, systemPrompt, userContent)
	baseText, baseUsage, err := h.baseProvider.Chat(ctx, h.baseModel, escalationSystem, wrappedUser,
		provider.ChatOptions{JSONMode: true})
	if err != nil {
		return "", types.TokenUsage{}, err
	}

	decision, ok := parseDecision(baseText)
	if !ok {
		slog.Warn("escalation self-assessment unparseable, using raw response",
			"model", h.baseModel)
		return baseText, baseUsage, nil
	}

	if decision.NeedsEscalation && decision.Confidence < ConfidenceThreshold {
		slog.Info("escalating to premium model",
			"confidence", decision.Confidence,
			"reason", decision.Reason,
			"model", h.escalationModel)
		escText, escUsage, err := h.escalationProvider.Chat(ctx, h.escalationModel, systemPrompt, userContent, opts)
		if err != nil {
			return "", types.TokenUsage{}, err
		}
		return escText, baseUsage.Add(escUsage), nil
	}
	return decision.Response, baseUsage, nil
}

// parseDecision decodes the self-assessment envelope. Both "response" and
// "confidence" must be present. Text wrapped in a stray JSON array (a
// side effect of array-prefill JSON mode) is unwrapped first.
func parseDecision(text string) (escalationDecision, bool) {
	trimmed := strings.TrimSpace(text)
	candidates := []string{trimmed}
	if inner, ok := unwrapSingletonArray(trimmed); ok {
		candidates = append(candidates, inner)
	}
	for _, candidate := range candidates {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		if _, ok := raw["response"]; !ok {
			continue
		}
		if _, ok := raw["confidence"]; !ok {
			continue
		}
		var d escalationDecision
		if err := json.Unmarshal([]byte(candidate), &d); err != nil {
			continue
		}
		return d, true
	}
	return escalationDecision{}, false
}

func unwrapSingletonArray(text string) (string, bool) {
	if !strings.HasPrefix(text, "[") {
		return "", false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(text), &arr); err != nil || len(arr) != 1 {
		return "", false
	}
	return string(arr[0]), true
}
