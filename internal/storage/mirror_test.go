package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/workrecap/workrecap/internal/types"
)

func openTestMirror(t *testing.T) *Mirror {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSaveActivitiesReplacesDate(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()
	date := "2025-02-16"

	activities := []types.Activity{
		{TS: date + "T09:00:00Z", Kind: types.KindPRAuthored, Repo: "org/repo", Title: "Add parser", URL: "https://ghes/pr/1"},
		{TS: date + "T10:00:00Z", Kind: types.KindCommit, Repo: "org/repo", Title: "fix: cache", URL: "https://ghes/c/abc"},
	}
	stats := types.DailyStats{Date: date}
	stats.GitHub.AuthoredCount = 1

	if err := m.SaveActivities(ctx, date, activities, stats); err != nil {
		t.Fatalf("SaveActivities: %v", err)
	}
	count, err := m.ActivityCount(ctx, date)
	if err != nil || count != 2 {
		t.Fatalf("count = %d, err %v", count, err)
	}

	// Re-saving the same date replaces, not appends.
	if err := m.SaveActivities(ctx, date, activities[:1], stats); err != nil {
		t.Fatalf("SaveActivities: %v", err)
	}
	count, err = m.ActivityCount(ctx, date)
	if err != nil || count != 1 {
		t.Errorf("count after resave = %d, err %v", count, err)
	}
}

func TestSaveSummaryUpserts(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	if err := m.SaveSummary(ctx, "daily", "2025-02-16", "# First"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if err := m.SaveSummary(ctx, "daily", "2025-02-16", "# Second"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	content, err := m.GetSummary(ctx, "daily", "2025-02-16")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if content != "# Second" {
		t.Errorf("content = %q", content)
	}
}

func TestGetSummaryMissing(t *testing.T) {
	m := openTestMirror(t)
	_, err := m.GetSummary(context.Background(), "daily", "2099-01-01")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v", err)
	}
}
