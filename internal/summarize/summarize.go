// Package summarize renders the hierarchical Markdown recaps: daily from
// the normalized activity stream, weekly from dailies, monthly from
// weeklies, yearly from monthlies, plus an ad-hoc query mode over recent
// summaries.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/llm"
	"github.com/workrecap/workrecap/internal/prompts"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

// ErrNoQueryContext is returned by Query when no summaries exist to answer
// from.
var ErrNoQueryContext = errors.New("no summary data available for query context")

// Per-activity truncation limits for the daily prompt.
const (
	maxPromptFiles    = 8
	maxPromptBody     = 1000
	maxPromptSnippets = 3
	maxPromptSnippet  = 500
	maxPatchCount     = 8
	maxPatchChars     = 1000
	patchBudget       = 8000
	maxInlineCtxs     = 10
	maxInlineChars    = 300
)

// Summarizer writes Markdown recaps through the LLM router. The router is
// required; only empty-activity days are written without a model call.
type Summarizer struct {
	cfg         *config.Config
	router      *llm.Router
	prompts     *prompts.Library
	checkpoints *state.CheckpointStore
	daily       *state.DailyStateStore
	now         func() time.Time
}

// New creates a summarizer.
func New(cfg *config.Config, router *llm.Router, lib *prompts.Library, checkpoints *state.CheckpointStore, daily *state.DailyStateStore) *Summarizer {
	return &Summarizer{
		cfg:         cfg,
		router:      router,
		prompts:     lib,
		checkpoints: checkpoints,
		daily:       daily,
		now:         time.Now,
	}
}

// Daily generates the daily summary for date and returns the output path.
// A day with no recorded activity gets a marker file without an LLM call;
// the checkpoint still advances so range runs treat it as done.
func (s *Summarizer) Daily(ctx context.Context, date string) (string, error) {
	activities, stats, err := s.loadNormalized(date)
	if err != nil {
		return "", err
	}
	outputPath := s.cfg.DailySummaryPath(date)

	if len(activities) == 0 {
		slog.Info("no activities, skipping LLM call", "date", date)
		content := fmt.Sprintf("# %s\n\nNo activity on this day.\n", date)
		if err := saveMarkdown(outputPath, content); err != nil {
			return "", err
		}
		if err := s.markSummarized(date); err != nil {
			return "", err
		}
		return outputPath, nil
	}

	system, user, err := s.dailyPrompt(date, activities, stats)
	if err != nil {
		return "", err
	}
	response, err := s.router.Chat(ctx, "daily", system, user, llm.ChatOptions{CacheSystemPrompt: true})
	if err != nil {
		return "", err
	}
	if err := saveMarkdown(outputPath, response); err != nil {
		return "", err
	}
	if err := s.markSummarized(date); err != nil {
		return "", err
	}
	slog.Info("generated daily summary", "date", date, "path", outputPath)
	return outputPath, nil
}

// loadNormalized reads the normalizer's outputs for date. Both files are
// required.
func (s *Summarizer) loadNormalized(date string) ([]types.Activity, types.DailyStats, error) {
	dir := s.cfg.NormalizedDir(date)
	activitiesPath := filepath.Join(dir, "activities.jsonl")
	activities, err := types.LoadJSONL[types.Activity](activitiesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.DailyStats{}, fmt.Errorf("activities file not found: %s", activitiesPath)
		}
		return nil, types.DailyStats{}, err
	}
	statsPath := filepath.Join(dir, "stats.json")
	var stats types.DailyStats
	if err := types.LoadJSON(statsPath, &stats); err != nil {
		if os.IsNotExist(err) {
			return nil, types.DailyStats{}, fmt.Errorf("stats file not found: %s", statsPath)
		}
		return nil, types.DailyStats{}, err
	}
	return activities, stats, nil
}

// dailyPrompt renders the daily template. Per-day data lives in the user
// content so the instruction prompt stays cacheable across dates.
func (s *Summarizer) dailyPrompt(date string, activities []types.Activity, stats types.DailyStats) (string, string, error) {
	return s.prompts.RenderSplit("daily.md", map[string]any{
		"Date":       date,
		"Stats":      stats,
		"Activities": formatActivities(activities),
	})
}

// formatActivities turns the activity stream into the prompt's text blocks.
// Everything verbose is truncated so one busy day cannot blow the context
// window.
func formatActivities(activities []types.Activity) string {
	var b strings.Builder
	for i, a := range activities {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s (%s) +%d/-%d URL: %s", a.Kind, a.Title, a.Repo, a.Additions, a.Deletions, a.URL)
		if a.Intent != "" {
			fmt.Fprintf(&b, "\n  Intent: %s", a.Intent)
		}
		if a.ChangeSummary != "" {
			fmt.Fprintf(&b, "\n  Change Summary: %s", a.ChangeSummary)
		}
		if len(a.Files) > 0 {
			shown := a.Files
			if len(shown) > maxPromptFiles {
				shown = shown[:maxPromptFiles]
			}
			fmt.Fprintf(&b, "\n  Files: %s", strings.Join(shown, ", "))
			if extra := len(a.Files) - maxPromptFiles; extra > 0 {
				fmt.Fprintf(&b, " and %d more", extra)
			}
		}
		if a.Body != "" {
			fmt.Fprintf(&b, "\n  Body: %s", truncate(a.Body, maxPromptBody))
		}
		if snips := formatSnippets(a.ReviewBodies); snips != "" {
			fmt.Fprintf(&b, "\n  Reviews: %s", snips)
		}
		if snips := formatSnippets(a.CommentBodies); snips != "" {
			fmt.Fprintf(&b, "\n  Comments: %s", snips)
		}
		writePatches(&b, a.FilePatches, a.Files)
		writeInlineComments(&b, a.CommentCtxs)
	}
	return b.String()
}

// formatSnippets joins at most maxPromptSnippets truncated bodies.
func formatSnippets(bodies []string) string {
	if len(bodies) == 0 {
		return ""
	}
	if len(bodies) > maxPromptSnippets {
		bodies = bodies[:maxPromptSnippets]
	}
	parts := make([]string, len(bodies))
	for i, body := range bodies {
		parts[i] = truncate(body, maxPromptSnippet)
	}
	return strings.Join(parts, " | ")
}

// writePatches appends a bounded Patches section. Patches are emitted in
// the activity's file order, each truncated, under an overall budget.
func writePatches(b *strings.Builder, patches map[string]string, fileOrder []string) {
	if len(patches) == 0 {
		return
	}
	budget := patchBudget
	count := 0
	var lines []string
	for _, name := range fileOrder {
		patch, ok := patches[name]
		if !ok {
			continue
		}
		if count >= maxPatchCount {
			break
		}
		entry := fmt.Sprintf("    --- %s ---\n    %s", name, truncate(patch, maxPatchChars))
		if budget-len(entry) < 0 {
			break
		}
		budget -= len(entry)
		lines = append(lines, entry)
		count++
	}
	if len(lines) > 0 {
		b.WriteString("\n  Patches:\n" + strings.Join(lines, "\n"))
	}
}

func writeInlineComments(b *strings.Builder, ctxs []types.CommentContext) {
	if len(ctxs) == 0 {
		return
	}
	if len(ctxs) > maxInlineCtxs {
		ctxs = ctxs[:maxInlineCtxs]
	}
	var lines []string
	for _, ctx := range ctxs {
		hunk := ctx.DiffHunk
		if len(hunk) > maxInlineChars {
			// The tail of a hunk carries the lines the comment refers to.
			hunk = hunk[len(hunk)-maxInlineChars:]
		}
		lines = append(lines, fmt.Sprintf("    at %s:%d\n    hunk: %s\n    comment: %s",
			ctx.Path, ctx.Line, hunk, truncate(ctx.Body, maxInlineChars)))
	}
	b.WriteString("\n  Inline comments:\n" + strings.Join(lines, "\n"))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func saveMarkdown(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (s *Summarizer) markSummarized(date string) error {
	if err := s.checkpoints.Set(state.KeyLastSummarize, date); err != nil {
		return err
	}
	return s.daily.MarkSummarized(date)
}
