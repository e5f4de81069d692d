// Package pipeline composes the fetch, normalize and summarize services
// for a single date or a closed date range, with optional weekly, monthly
// and yearly cascades and a best-effort storage mirror.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/fetch"
	"github.com/workrecap/workrecap/internal/normalize"
	"github.com/workrecap/workrecap/internal/storage"
	"github.com/workrecap/workrecap/internal/summarize"
	"github.com/workrecap/workrecap/internal/types"
)

// StepFailedError identifies which pipeline stage broke a daily run.
type StepFailedError struct {
	Step string
	Err  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("pipeline failed at '%s': %v", e.Step, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

// Pipeline runs the three stages in order. mirror may be nil; when set,
// mirror writes are best-effort and never fail a run.
type Pipeline struct {
	cfg        *config.Config
	fetcher    *fetch.Fetcher
	normalizer *normalize.Normalizer
	summarizer *summarize.Summarizer
	mirror     *storage.Mirror
}

// New creates a pipeline.
func New(cfg *config.Config, fetcher *fetch.Fetcher, normalizer *normalize.Normalizer, summarizer *summarize.Summarizer, mirror *storage.Mirror) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		normalizer: normalizer,
		summarizer: summarizer,
		mirror:     mirror,
	}
}

// RangeOptions carries the knobs shared by range runs.
type RangeOptions struct {
	Force   bool
	Workers int
	Batch   bool
	Types   fetch.Types

	// Cascades after the daily range. Yearly implies Weekly and Monthly,
	// since a yearly builds on monthlies which build on weeklies.
	Weekly  bool
	Monthly bool
	Yearly  bool
}

// RunDaily runs fetch, normalize and summarize for one date and returns
// the daily summary path.
func (p *Pipeline) RunDaily(ctx context.Context, date string, kinds fetch.Types) (string, error) {
	if _, err := p.fetcher.Fetch(ctx, date, kinds); err != nil {
		return "", &StepFailedError{Step: "fetch", Err: err}
	}
	activities, stats, err := p.normalizer.Normalize(ctx, date)
	if err != nil {
		return "", &StepFailedError{Step: "normalize", Err: err}
	}
	p.mirrorActivities(ctx, date, activities, stats)

	path, err := p.summarizer.Daily(ctx, date)
	if err != nil {
		return "", &StepFailedError{Step: "summarize", Err: err}
	}
	p.mirrorSummaryFile(ctx, "daily", date, path)
	return path, nil
}

// RunRange runs the three stages over [since, until], merging the per-date
// outcomes and then running any requested cascades. Cascades are skipped
// when any date failed, so a partial range never produces a misleading
// higher-level summary.
func (p *Pipeline) RunRange(ctx context.Context, since, until string, opts RangeOptions) ([]types.DateResult, error) {
	if opts.Yearly {
		opts.Weekly = true
		opts.Monthly = true
	}

	fetchResults, err := p.fetcher.FetchRange(ctx, since, until, opts.Types, opts.Force, opts.Workers)
	if err != nil {
		return nil, &StepFailedError{Step: "fetch", Err: err}
	}
	normResults, err := p.normalizer.NormalizeRange(ctx, since, until, opts.Force, opts.Workers, opts.Batch)
	if err != nil {
		return nil, &StepFailedError{Step: "normalize", Err: err}
	}
	p.mirrorRange(ctx, normResults)

	sumResults, err := p.summarizer.DailyRange(ctx, since, until, opts.Force, opts.Workers, opts.Batch)
	if err != nil {
		return nil, &StepFailedError{Step: "summarize", Err: err}
	}

	merged := mergeResults(fetchResults, normResults, sumResults)

	failures := 0
	for _, r := range merged {
		if r.Status == "failed" {
			failures++
		}
	}
	if opts.Weekly || opts.Monthly || opts.Yearly {
		if failures > 0 {
			slog.Warn("skipping cascades, range had failures", "failed", failures)
		} else {
			p.RunCascades(ctx, since, until, opts)
		}
	}
	return merged, nil
}

// RunWeekly generates one weekly summary and mirrors it.
func (p *Pipeline) RunWeekly(ctx context.Context, year, week int, force bool) (string, error) {
	path, err := p.summarizer.Weekly(ctx, year, week, force)
	if err != nil {
		return "", err
	}
	p.mirrorSummaryFile(ctx, "weekly", fmt.Sprintf("%04d-W%02d", year, week), path)
	return path, nil
}

// RunMonthly generates one monthly summary and mirrors it.
func (p *Pipeline) RunMonthly(ctx context.Context, year, month int, force bool) (string, error) {
	path, err := p.summarizer.Monthly(ctx, year, month, force)
	if err != nil {
		return "", err
	}
	p.mirrorSummaryFile(ctx, "monthly", fmt.Sprintf("%04d-%02d", year, month), path)
	return path, nil
}

// RunYearly generates one yearly summary and mirrors it.
func (p *Pipeline) RunYearly(ctx context.Context, year int, force bool) (string, error) {
	path, err := p.summarizer.Yearly(ctx, year, force)
	if err != nil {
		return "", err
	}
	p.mirrorSummaryFile(ctx, "yearly", fmt.Sprintf("%04d", year), path)
	return path, nil
}

// RunCascades regenerates every weekly, monthly and yearly summary the
// range touches. Individual cascade failures are logged, not propagated:
// the daily range already succeeded.
func (p *Pipeline) RunCascades(ctx context.Context, since, until string, opts RangeOptions) {
	if opts.Yearly {
		opts.Weekly = true
		opts.Monthly = true
	}
	if opts.Weekly {
		for _, wk := range weeksIn(since, until) {
			if _, err := p.RunWeekly(ctx, wk[0], wk[1], opts.Force); err != nil {
				slog.Warn("weekly cascade failed", "year", wk[0], "week", wk[1], "err", err)
			}
		}
	}
	if opts.Monthly {
		for _, mo := range monthsIn(since, until) {
			if _, err := p.RunMonthly(ctx, mo[0], mo[1], opts.Force); err != nil {
				slog.Warn("monthly cascade failed", "year", mo[0], "month", mo[1], "err", err)
			}
		}
	}
	if opts.Yearly {
		for _, year := range yearsIn(since, until) {
			if _, err := p.RunYearly(ctx, year, opts.Force); err != nil {
				slog.Warn("yearly cascade failed", "year", year, "err", err)
			}
		}
	}
}

// mergeResults folds the three per-stage result lists into one verdict per
// date. A failure in an earlier stage wins; a date is skipped only when
// every stage skipped it.
func mergeResults(fetchResults, normResults, sumResults []types.DateResult) []types.DateResult {
	type stages struct {
		fetch, norm, sum *types.DateResult
	}
	byDate := map[string]*stages{}
	var order []string
	index := func(results []types.DateResult, pick func(*stages, *types.DateResult)) {
		for i := range results {
			r := &results[i]
			st, ok := byDate[r.Date]
			if !ok {
				st = &stages{}
				byDate[r.Date] = st
				order = append(order, r.Date)
			}
			pick(st, r)
		}
	}
	index(fetchResults, func(st *stages, r *types.DateResult) { st.fetch = r })
	index(normResults, func(st *stages, r *types.DateResult) { st.norm = r })
	index(sumResults, func(st *stages, r *types.DateResult) { st.sum = r })

	merged := make([]types.DateResult, 0, len(order))
	for _, date := range order {
		st := byDate[date]
		merged = append(merged, mergeDate(date, st.fetch, st.norm, st.sum))
	}
	return merged
}

func mergeDate(date string, fetchR, normR, sumR *types.DateResult) types.DateResult {
	for _, stage := range []struct {
		name   string
		result *types.DateResult
	}{
		{"fetch", fetchR},
		{"normalize", normR},
		{"summarize", sumR},
	} {
		if stage.result != nil && stage.result.Status == "failed" {
			return types.DateResult{
				Date:   date,
				Status: "failed",
				Error:  fmt.Sprintf("pipeline failed at '%s': %s", stage.name, stage.result.Error),
			}
		}
	}
	allSkipped := true
	for _, r := range []*types.DateResult{fetchR, normR, sumR} {
		if r != nil && r.Status != "skipped" {
			allSkipped = false
		}
	}
	if allSkipped {
		return types.DateResult{Date: date, Status: "skipped"}
	}
	result := types.DateResult{Date: date, Status: "success"}
	if sumR != nil && sumR.Path != "" {
		result.Path = sumR.Path
	}
	return result
}

// ── Mirror writes (best-effort) ──

func (p *Pipeline) mirrorActivities(ctx context.Context, date string, activities []types.Activity, stats types.DailyStats) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.SaveActivities(ctx, date, activities, stats); err != nil {
		slog.Warn("mirror save_activities failed", "date", date, "err", err)
	}
}

func (p *Pipeline) mirrorSummaryFile(ctx context.Context, level, dateKey, path string) {
	if p.mirror == nil {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("mirror summary read failed", "level", level, "path", path, "err", err)
		return
	}
	if err := p.mirror.SaveSummary(ctx, level, dateKey, string(content)); err != nil {
		slog.Warn("mirror save_summary failed", "level", level, "date_key", dateKey, "err", err)
	}
}

// mirrorRange re-reads the normalized files of every successful date and
// mirrors them. The range services do not return their payloads, so a
// range run mirrors from disk.
func (p *Pipeline) mirrorRange(ctx context.Context, normResults []types.DateResult) {
	if p.mirror == nil {
		return
	}
	for _, r := range normResults {
		if r.Status != "success" {
			continue
		}
		dir := p.cfg.NormalizedDir(r.Date)
		activities, err := types.LoadJSONL[types.Activity](filepath.Join(dir, "activities.jsonl"))
		if err != nil {
			slog.Warn("mirror read failed", "date", r.Date, "err", err)
			continue
		}
		var stats types.DailyStats
		if err := types.LoadJSON(filepath.Join(dir, "stats.json"), &stats); err != nil {
			slog.Warn("mirror read failed", "date", r.Date, "err", err)
			continue
		}
		p.mirrorActivities(ctx, r.Date, activities, stats)
	}
}
