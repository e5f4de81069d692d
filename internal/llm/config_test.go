package llm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[strategy]
mode = "adaptive"

[providers.anthropic]
api_key = "sk-ant"

[providers.custom]
base_url = "http://localhost:11434/v1"

[tasks.enrich]
provider = "anthropic"
model = "claude-haiku-4-5"
escalation_model = "claude-sonnet-4-6"
max_tokens = 4000

[tasks.query]
provider = "custom"
model = "llama3"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StrategyMode() != "adaptive" {
		t.Errorf("mode = %q", cfg.StrategyMode())
	}
	tc, err := cfg.TaskConfigFor("enrich")
	if err != nil {
		t.Fatal(err)
	}
	if tc.Model != "claude-haiku-4-5" || tc.EscalationModel != "claude-sonnet-4-6" || tc.MaxTokens != 4000 {
		t.Errorf("enrich config = %+v", tc)
	}
	entry, err := cfg.ProviderEntryFor("custom")
	if err != nil {
		t.Fatal(err)
	}
	if entry.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("custom base_url = %q", entry.BaseURL)
	}
}

func TestLoadConfigDefaultsToFixed(t *testing.T) {
	path := writeConfig(t, `
[providers.openai]
api_key = "sk"

[tasks.default]
provider = "openai"
model = "gpt-4o-mini"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StrategyMode() != "fixed" {
		t.Errorf("mode = %q, want fixed", cfg.StrategyMode())
	}
}

func TestLoadConfigFailsFast(t *testing.T) {
	cases := map[string]string{
		"bad strategy": `
[strategy]
mode = "frugal"
[providers.openai]
api_key = "sk"
`,
		"unknown provider ref": `
[providers.openai]
api_key = "sk"
[tasks.daily]
provider = "anthropic"
model = "claude-haiku-4-5"
`,
		"empty api key": `
[providers.openai]
api_key = ""
`,
	}
	for name, content := range cases {
		if _, err := LoadConfig(writeConfig(t, content)); err == nil {
			t.Errorf("%s: want validation error", name)
		}
	}
}

func TestValidateAllowsKeylessCustom(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderEntry{"custom": {BaseURL: "http://localhost:8000/v1"}},
		Tasks:     map[string]TaskConfig{"default": {Provider: "custom", Model: "m"}},
	}
	cfg.Strategy.Mode = "fixed"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate = %v", errs)
	}
}

func TestTaskConfigForMissing(t *testing.T) {
	cfg := &Config{Tasks: map[string]TaskConfig{}}
	cfg.Strategy.Mode = "fixed"
	if _, err := cfg.TaskConfigFor("enrich"); err == nil {
		t.Error("want error without default task")
	} else if !strings.Contains(err.Error(), "no default") {
		t.Errorf("err = %v", err)
	}
}
