package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/workrecap/workrecap/internal/dates"
	"github.com/workrecap/workrecap/internal/llm"
)

// Weekly generates the recap for one ISO week from its daily summaries.
// The week is regenerated only when the output is missing or any
// contributing daily is newer; force bypasses the check.
func (s *Summarizer) Weekly(ctx context.Context, year, week int, force bool) (string, error) {
	outputPath := s.cfg.WeeklySummaryPath(year, week)
	inputs := s.dailyPathsForWeek(year, week)
	if !force && !stale(outputPath, inputs) {
		slog.Info("weekly summary is current, skipping", "path", outputPath)
		return outputPath, nil
	}
	contents := readAll(inputs)
	if len(contents) == 0 {
		return "", fmt.Errorf("no daily summaries found for %04d-W%02d", year, week)
	}
	return s.renderLevel(ctx, "weekly", outputPath, map[string]any{
		"Year": year, "Week": week, "Content": joinSummaries(contents),
	})
}

// Monthly generates the recap for one month from the weeklies overlapping
// it.
func (s *Summarizer) Monthly(ctx context.Context, year, month int, force bool) (string, error) {
	outputPath := s.cfg.MonthlySummaryPath(year, month)
	inputs := s.weeklyPathsForMonth(year, month)
	if !force && !stale(outputPath, inputs) {
		slog.Info("monthly summary is current, skipping", "path", outputPath)
		return outputPath, nil
	}
	contents := readAll(inputs)
	if len(contents) == 0 {
		return "", fmt.Errorf("no weekly summaries found for %04d-%02d", year, month)
	}
	return s.renderLevel(ctx, "monthly", outputPath, map[string]any{
		"Year": year, "Month": month, "Content": joinSummaries(contents),
	})
}

// Yearly generates the recap for one year from its monthlies.
func (s *Summarizer) Yearly(ctx context.Context, year int, force bool) (string, error) {
	outputPath := s.cfg.YearlySummaryPath(year)
	inputs := s.monthlyPathsForYear(year)
	if !force && !stale(outputPath, inputs) {
		slog.Info("yearly summary is current, skipping", "path", outputPath)
		return outputPath, nil
	}
	contents := readAll(inputs)
	if len(contents) == 0 {
		return "", fmt.Errorf("no monthly summaries found for %d", year)
	}
	return s.renderLevel(ctx, "yearly", outputPath, map[string]any{
		"Year": year, "Content": joinSummaries(contents),
	})
}

// Query answers a free-form question over recent summaries. Context is the
// last monthsBack monthly recaps, falling back to weeklies and then dailies
// when higher levels have not been generated yet. Returns the answer, not a
// file.
func (s *Summarizer) Query(ctx context.Context, question string, monthsBack int) (string, error) {
	if monthsBack <= 0 {
		monthsBack = s.cfg.QueryMonthsBack
	}
	if monthsBack <= 0 {
		monthsBack = 3
	}
	contents := s.queryContext(monthsBack)
	if len(contents) == 0 {
		return "", ErrNoQueryContext
	}
	system, user, err := s.prompts.RenderSplit("query.md", map[string]any{
		"Context":  joinSummaries(contents),
		"Question": question,
	})
	if err != nil {
		return "", err
	}
	return s.router.Chat(ctx, "query", system, user, llm.ChatOptions{CacheSystemPrompt: true})
}

// renderLevel runs one period-level chat and writes the result.
func (s *Summarizer) renderLevel(ctx context.Context, task, outputPath string, data map[string]any) (string, error) {
	system, user, err := s.prompts.RenderSplit(task+".md", data)
	if err != nil {
		return "", err
	}
	response, err := s.router.Chat(ctx, task, system, user, llm.ChatOptions{CacheSystemPrompt: true})
	if err != nil {
		return "", err
	}
	if err := saveMarkdown(outputPath, response); err != nil {
		return "", err
	}
	slog.Info("generated summary", "level", task, "path", outputPath)
	return outputPath, nil
}

// ── Input discovery ──

// dailyPathsForWeek returns the existing daily summary files of the ISO
// week, Monday through Sunday.
func (s *Summarizer) dailyPathsForWeek(year, week int) []string {
	monday, sunday := dates.WeekRange(year, week)
	dateList, err := dates.Range(monday, sunday)
	if err != nil {
		return nil
	}
	var paths []string
	for _, d := range dateList {
		p := s.cfg.DailySummaryPath(d)
		if fileExists(p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// weeklyPathsForMonth returns the existing weekly summary files whose ISO
// week overlaps the month. Stepping seven days from the first of the month
// visits every overlapping week exactly once after dedup.
func (s *Summarizer) weeklyPathsForMonth(year, month int) []string {
	first, last := dates.MonthRange(year, month)
	start, err := dates.Parse(first)
	if err != nil {
		return nil
	}
	end, _ := dates.Parse(last)

	var paths []string
	seen := map[[2]int]bool{}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 7) {
		isoYear, isoWeek := d.ISOWeek()
		key := [2]int{isoYear, isoWeek}
		if seen[key] {
			continue
		}
		seen[key] = true
		p := s.cfg.WeeklySummaryPath(isoYear, isoWeek)
		if fileExists(p) {
			paths = append(paths, p)
		}
	}
	return paths
}

func (s *Summarizer) monthlyPathsForYear(year int) []string {
	var paths []string
	for m := 1; m <= 12; m++ {
		p := s.cfg.MonthlySummaryPath(year, m)
		if fileExists(p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// queryContext walks back monthsBack months from today collecting monthly
// summaries; when none exist it retries with the weeklies of the same
// window, then with the dailies of the last two weeks.
func (s *Summarizer) queryContext(monthsBack int) []string {
	today := s.now().UTC()

	var monthlies []string
	for i := 0; i < monthsBack; i++ {
		t := today.AddDate(0, -i, 0)
		p := s.cfg.MonthlySummaryPath(t.Year(), int(t.Month()))
		if fileExists(p) {
			monthlies = append(monthlies, p)
		}
	}
	if len(monthlies) > 0 {
		return readAll(monthlies)
	}

	var weeklies []string
	seen := map[[2]int]bool{}
	windowStart := today.AddDate(0, -monthsBack, 0)
	for d := today; !d.Before(windowStart); d = d.AddDate(0, 0, -7) {
		isoYear, isoWeek := d.ISOWeek()
		key := [2]int{isoYear, isoWeek}
		if seen[key] {
			continue
		}
		seen[key] = true
		p := s.cfg.WeeklySummaryPath(isoYear, isoWeek)
		if fileExists(p) {
			weeklies = append(weeklies, p)
		}
	}
	if len(weeklies) > 0 {
		return readAll(weeklies)
	}

	var dailies []string
	for i := 0; i < 14; i++ {
		d := dates.Format(today.AddDate(0, 0, -i))
		p := s.cfg.DailySummaryPath(d)
		if fileExists(p) {
			dailies = append(dailies, p)
		}
	}
	return readAll(dailies)
}

// ── Staleness and file helpers ──

// stale reports whether outputPath is missing or older than any input.
func stale(outputPath string, inputPaths []string) bool {
	info, err := os.Stat(outputPath)
	if err != nil {
		return true
	}
	outputMtime := info.ModTime()
	for _, p := range inputPaths {
		if in, err := os.Stat(p); err == nil && in.ModTime().After(outputMtime) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readAll(paths []string) []string {
	var contents []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("failed to read summary input", "path", p, "err", err)
			continue
		}
		contents = append(contents, string(data))
	}
	return contents
}

func joinSummaries(contents []string) string {
	return strings.Join(contents, "\n\n---\n\n")
}
