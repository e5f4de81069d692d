// Package config holds the viper-backed application configuration and the
// canonical data-directory layout helpers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .workrecap/config.yaml (walking up from CWD)
	// > ~/.config/workrecap/config.yaml
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".workrecap", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "workrecap", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Env vars take precedence over the config file.
	// E.g. WORKRECAP_GITHUB_TOKEN → github.token
	v.SetEnvPrefix("WORKRECAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.username", "")
	v.SetDefault("github.pool_size", 5)
	v.SetDefault("github.max_retries", 5)
	v.SetDefault("github.search_interval", 2.0)
	v.SetDefault("github.timeout_seconds", 30)
	v.SetDefault("normalize.include_own_comments", true)
	v.SetDefault("query.months_back", 3)
	v.SetDefault("provider_config", ".workrecap/providers.toml")
	v.SetDefault("prompts_dir", "prompts")
	v.SetDefault("mirror.sqlite_path", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
}

// Viper exposes the singleton for flag binding in the CLI.
func Viper() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// Config is a resolved snapshot of everything the services need.
type Config struct {
	DataDir string

	GitHubBaseURL  string
	GitHubToken    string
	Username       string
	PoolSize       int
	MaxRetries     int
	SearchInterval float64
	TimeoutSeconds int

	IncludeOwnComments bool
	QueryMonthsBack    int
	ProviderConfigPath string
	PromptsDir         string
	MirrorSQLitePath   string
}

// Load resolves the current configuration. It validates the fields the
// pipeline cannot run without.
func Load() (*Config, error) {
	vp := Viper()
	cfg := &Config{
		DataDir:            vp.GetString("data_dir"),
		GitHubBaseURL:      vp.GetString("github.base_url"),
		GitHubToken:        vp.GetString("github.token"),
		Username:           vp.GetString("github.username"),
		PoolSize:           vp.GetInt("github.pool_size"),
		MaxRetries:         vp.GetInt("github.max_retries"),
		SearchInterval:     vp.GetFloat64("github.search_interval"),
		TimeoutSeconds:     vp.GetInt("github.timeout_seconds"),
		IncludeOwnComments: vp.GetBool("normalize.include_own_comments"),
		QueryMonthsBack:    vp.GetInt("query.months_back"),
		ProviderConfigPath: vp.GetString("provider_config"),
		PromptsDir:         vp.GetString("prompts_dir"),
		MirrorSQLitePath:   vp.GetString("mirror.sqlite_path"),
	}
	if cfg.GitHubBaseURL == "" {
		return nil, fmt.Errorf("github.base_url is not configured")
	}
	if cfg.GitHubToken == "" {
		return nil, fmt.Errorf("github.token is not configured")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("github.username is not configured")
	}
	return cfg, nil
}

// ── Canonical file-tree layout ──

func (c *Config) dateDir(root, date string) string {
	// date is YYYY-MM-DD
	return filepath.Join(c.DataDir, root, date[:4], date[5:7], date[8:10])
}

// RawDir returns data/raw/{YYYY}/{MM}/{DD}.
func (c *Config) RawDir(date string) string {
	return c.dateDir("raw", date)
}

// NormalizedDir returns data/normalized/{YYYY}/{MM}/{DD}.
func (c *Config) NormalizedDir(date string) string {
	return c.dateDir("normalized", date)
}

// DailySummaryPath returns data/summaries/{YYYY}/daily/{MM}-{DD}.md.
func (c *Config) DailySummaryPath(date string) string {
	return filepath.Join(c.DataDir, "summaries", date[:4], "daily", date[5:7]+"-"+date[8:10]+".md")
}

// WeeklySummaryPath returns data/summaries/{YYYY}/weekly/W{NN}.md.
func (c *Config) WeeklySummaryPath(year, week int) string {
	return filepath.Join(c.DataDir, "summaries", fmt.Sprintf("%04d", year), "weekly", fmt.Sprintf("W%02d.md", week))
}

// MonthlySummaryPath returns data/summaries/{YYYY}/monthly/{MM}.md.
func (c *Config) MonthlySummaryPath(year, month int) string {
	return filepath.Join(c.DataDir, "summaries", fmt.Sprintf("%04d", year), "monthly", fmt.Sprintf("%02d.md", month))
}

// YearlySummaryPath returns data/summaries/{YYYY}/yearly.md.
func (c *Config) YearlySummaryPath(year int) string {
	return filepath.Join(c.DataDir, "summaries", fmt.Sprintf("%04d", year), "yearly.md")
}

// StateDir returns data/state.
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, "state")
}

// CheckpointsPath returns data/state/checkpoints.json.
func (c *Config) CheckpointsPath() string {
	return filepath.Join(c.StateDir(), "checkpoints.json")
}

// DailyStatePath returns data/state/daily_state.json.
func (c *Config) DailyStatePath() string {
	return filepath.Join(c.StateDir(), "daily_state.json")
}

// FailedDatesPath returns data/state/failed_dates.json.
func (c *Config) FailedDatesPath() string {
	return filepath.Join(c.StateDir(), "failed_dates.json")
}

// BatchJobsPath returns data/state/batch_jobs.json.
func (c *Config) BatchJobsPath() string {
	return filepath.Join(c.StateDir(), "batch_jobs.json")
}

// FetchProgressDir returns data/state/fetch_progress.
func (c *Config) FetchProgressDir() string {
	return filepath.Join(c.StateDir(), "fetch_progress")
}

// JobsPath returns data/state/jobs.json.
func (c *Config) JobsPath() string {
	return filepath.Join(c.StateDir(), "jobs.json")
}
