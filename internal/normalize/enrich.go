package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/workrecap/workrecap/internal/llm"
	"github.com/workrecap/workrecap/internal/types"
)

// enrichItem is what the classifier model sees for one activity.
type enrichItem struct {
	Kind          string            `json:"kind"`
	Title         string            `json:"title"`
	Repo          string            `json:"repo"`
	Body          string            `json:"body,omitempty"`
	Files         []string          `json:"files,omitempty"`
	FilePatches   map[string]string `json:"file_patches,omitempty"`
	ReviewBodies  []string          `json:"review_bodies,omitempty"`
	CommentBodies []string          `json:"comment_bodies,omitempty"`
}

// enrichment is one entry of the model's JSON array response.
type enrichment struct {
	Index         *int   `json:"index"`
	ChangeSummary string `json:"change_summary"`
	Intent        string `json:"intent"`
}

// enrichPrompt renders the enrich template into (system, user). Returns
// ok=false when there is nothing to classify or the template is missing.
func (n *Normalizer) enrichPrompt(activities []types.Activity) (string, string, bool) {
	if len(activities) == 0 {
		return "", "", false
	}
	items := make([]enrichItem, len(activities))
	for i, a := range activities {
		items[i] = enrichItem{
			Kind:          string(a.Kind),
			Title:         a.Title,
			Repo:          a.Repo,
			Body:          a.Body,
			Files:         a.Files,
			FilePatches:   a.FilePatches,
			ReviewBodies:  a.ReviewBodies,
			CommentBodies: a.CommentBodies,
		}
	}
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		slog.Warn("failed to encode activities for enrichment", "err", err)
		return "", "", false
	}
	system, user, err := n.prompts.RenderSplit("enrich.md", map[string]string{"Activities": string(payload)})
	if err != nil {
		slog.Warn("enrich template unavailable", "err", err)
		return "", "", false
	}
	return system, user, true
}

// enrich classifies activities in place via the LLM router. Every failure
// here is non-fatal; activities simply stay unenriched.
func (n *Normalizer) enrich(ctx context.Context, activities []types.Activity) {
	if n.router == nil {
		return
	}
	if len(activities) == 0 {
		slog.Debug("skipping enrichment: no activities")
		return
	}
	system, user, ok := n.enrichPrompt(activities)
	if !ok {
		return
	}
	slog.Info("enriching activities", "count", len(activities))
	response, err := n.router.Chat(ctx, "enrich", system, user, llm.ChatOptions{
		JSONMode:          true,
		CacheSystemPrompt: true,
	})
	if err != nil {
		slog.Warn("enrichment failed, continuing without it", "err", err)
		return
	}
	applyEnrichment(activities, response)
}

// applyEnrichment merges a JSON array of {index, change_summary, intent}
// into the activities. Responses from batch runs may arrive without the
// opening bracket the JSON-mode prefill normally restores, so a second
// parse attempt prepends one. Parse failures leave the activities as-is.
func applyEnrichment(activities []types.Activity, response string) {
	text := strings.TrimSpace(response)
	var entries []enrichment
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		if err2 := json.Unmarshal([]byte("["+text), &entries); err2 != nil {
			slog.Warn("failed to parse enrichment response", "err", err)
			return
		}
	}
	for _, e := range entries {
		if e.Index == nil || *e.Index < 0 || *e.Index >= len(activities) {
			continue
		}
		activities[*e.Index].ChangeSummary = e.ChangeSummary
		activities[*e.Index].Intent = e.Intent
	}
}
