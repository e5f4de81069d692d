package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/workrecap/workrecap/internal/types"
)

func TestLoadEmbeddedDefault(t *testing.T) {
	lib := NewLibrary("")
	text, err := lib.Load("enrich.md")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(text, SplitMarker) {
		t.Error("enrich.md missing split marker")
	}
}

func TestLoadDiskOverrideWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "daily.md"), []byte("custom {{.Date}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib := NewLibrary(dir)
	got, err := lib.Render("daily.md", map[string]string{"Date": "2026-01-02"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "custom 2026-01-02" {
		t.Errorf("rendered = %q", got)
	}
	// Files absent from the override dir fall back to the embedded copy.
	if _, err := lib.Load("weekly.md"); err != nil {
		t.Errorf("fallback Load: %v", err)
	}
}

func TestLoadUnknownTemplate(t *testing.T) {
	if _, err := NewLibrary("").Load("nope.md"); err == nil {
		t.Error("want error for unknown template")
	}
}

func TestRenderSplit(t *testing.T) {
	dir := t.TempDir()
	content := "static system part\n" + SplitMarker + "\nhello {{.Name}}\n"
	if err := os.WriteFile(filepath.Join(dir, "enrich.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	system, user, err := NewLibrary(dir).RenderSplit("enrich.md", map[string]string{"Name": "world"})
	if err != nil {
		t.Fatalf("RenderSplit: %v", err)
	}
	if system != "static system part" {
		t.Errorf("system = %q", system)
	}
	if user != "hello world" {
		t.Errorf("user = %q", user)
	}
}

func TestRenderSplitWithoutMarker(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "enrich.md"), []byte("just {{.Name}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	system, user, err := NewLibrary(dir).RenderSplit("enrich.md", map[string]string{"Name": "this"})
	if err != nil {
		t.Fatalf("RenderSplit: %v", err)
	}
	if system != "You are a code change classifier." {
		t.Errorf("system = %q", system)
	}
	if user != "just this" {
		t.Errorf("user = %q", user)
	}
}

func TestDailyTemplateRenders(t *testing.T) {
	stats := types.DailyStats{Date: "2026-03-04"}
	stats.GitHub.AuthoredCount = 2
	stats.GitHub.ReposTouched = []string{"org/repo"}
	system, user, err := NewLibrary("").RenderSplit("daily.md", map[string]any{
		"Date":       "2026-03-04",
		"Stats":      stats,
		"Activities": "- [pr_authored] Add parser (org/repo) +10/-2",
	})
	if err != nil {
		t.Fatalf("RenderSplit: %v", err)
	}
	// Per-day data goes in the user content so the system prompt caches.
	if strings.Contains(system, "2026-03-04") {
		t.Errorf("system prompt carries per-day data:\n%s", system)
	}
	if !strings.Contains(user, "2026-03-04") || !strings.Contains(user, "2 PRs authored") ||
		!strings.Contains(user, "Add parser") {
		t.Errorf("rendered daily user content:\n%s", user)
	}
}

func TestPeriodTemplatesRender(t *testing.T) {
	lib := NewLibrary("")
	cases := []struct {
		name string
		data any
		want string
	}{
		{"weekly.md", map[string]any{"Year": 2026, "Week": 7, "Content": "daily recaps"}, "week 7 of 2026"},
		{"monthly.md", map[string]any{"Year": 2026, "Month": 3, "Content": "weekly recaps"}, "2026-03"},
		{"yearly.md", map[string]any{"Year": 2026, "Content": "monthly recaps"}, "2026"},
		{"query.md", map[string]any{"Context": "recaps", "Question": "what shipped?"}, "what shipped?"},
	}
	for _, tc := range cases {
		_, user, err := lib.RenderSplit(tc.name, tc.data)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !strings.Contains(user, tc.want) {
			t.Errorf("%s user content missing %q:\n%s", tc.name, tc.want, user)
		}
	}
}
