package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/workrecap/workrecap/internal/prompts"
)

// initFileConfig is the shape of the scaffolded .workrecap/config.yaml.
type initFileConfig struct {
	DataDir string `yaml:"data_dir"`
	GitHub  struct {
		BaseURL  string `yaml:"base_url"`
		Token    string `yaml:"token,omitempty"`
		Username string `yaml:"username"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"github"`
	ProviderConfig string `yaml:"provider_config"`
	PromptsDir     string `yaml:"prompts_dir"`
	Mirror         struct {
		SQLitePath string `yaml:"sqlite_path,omitempty"`
	} `yaml:"mirror,omitempty"`
}

const starterProviders = `# LLM provider routing. Set real API keys before running summarize.

[strategy]
# economy | standard | premium | adaptive | fixed
mode = "standard"

[providers.anthropic]
api_key = "sk-ant-REPLACE-ME"

[tasks.default]
provider = "anthropic"
model = "claude-haiku-4-5"

[tasks.enrich]
provider = "anthropic"
model = "claude-haiku-4-5"
max_tokens = 2048

[tasks.daily]
provider = "anthropic"
model = "claude-sonnet-4-5"
escalation_model = "claude-opus-4-5"

[tasks.weekly]
provider = "anthropic"
model = "claude-sonnet-4-5"

[tasks.monthly]
provider = "anthropic"
model = "claude-sonnet-4-5"
escalation_model = "claude-opus-4-5"

[tasks.yearly]
provider = "anthropic"
model = "claude-opus-4-5"

[tasks.query]
provider = "anthropic"
model = "claude-sonnet-4-5"
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold workrecap configuration in the current directory",
	Long: `Create the .workrecap/ configuration directory with a starter
config.yaml and providers.toml, and export the default prompt templates
so they can be customized.

Existing files are never overwritten. When run on a terminal, prompts for
the GitHub token so it does not end up in shell history.

Examples:
  workrecap init --base-url https://github.example.com --username alice
`,
	Run: func(cmd *cobra.Command, args []string) {
		baseURL, _ := cmd.Flags().GetString("base-url")
		username, _ := cmd.Flags().GetString("username")
		token, _ := cmd.Flags().GetString("token")

		dir := ".workrecap"
		configPath := filepath.Join(dir, "config.yaml")
		providersPath := filepath.Join(dir, "providers.toml")

		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Print("GitHub token (empty to set WORKRECAP_GITHUB_TOKEN later): ")
				entered, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err == nil {
					token = string(entered)
				}
			}

			var fc initFileConfig
			fc.DataDir = "data"
			fc.GitHub.BaseURL = baseURL
			fc.GitHub.Token = token
			fc.GitHub.Username = username
			fc.GitHub.PoolSize = 5
			fc.ProviderConfig = providersPath
			fc.PromptsDir = "prompts"

			data, err := yaml.Marshal(&fc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			// 0600, the file may hold the token.
			if err := os.WriteFile(configPath, data, 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %s\n", configPath)
		} else {
			fmt.Printf("Keeping existing %s\n", configPath)
		}

		if _, err := os.Stat(providersPath); os.IsNotExist(err) {
			if err := os.WriteFile(providersPath, []byte(starterProviders), 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %s\n", providersPath)
		} else {
			fmt.Printf("Keeping existing %s\n", providersPath)
		}

		if err := prompts.ExportDefaults("prompts"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Exported prompt templates to prompts/")

		if baseURL == "" || username == "" {
			fmt.Println("\nEdit .workrecap/config.yaml to set github.base_url and github.username.")
		}
	},
}

func init() {
	initCmd.Flags().String("base-url", "", "GitHub Enterprise base URL, e.g. https://github.example.com")
	initCmd.Flags().String("username", "", "Your GitHub login")
	initCmd.Flags().String("token", "", "GitHub personal access token (prompted for when omitted)")
	rootCmd.AddCommand(initCmd)
}
