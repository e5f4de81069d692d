package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available from the configured providers",
	Long: `Query every configured provider for its available models.

Providers that fail to answer (bad key, unreachable endpoint) are skipped
with a warning rather than failing the whole listing.

Examples:
  workrecap models
`,
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := openServices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer svc.Close()

		models := svc.router.ListModels(cmd.Context())
		if len(models) == 0 {
			fmt.Println("No models reported. Check providers.toml credentials.")
			os.Exit(1)
		}
		current := ""
		for _, m := range models {
			if m.Provider != current {
				current = m.Provider
				fmt.Println(titleStyle.Render(current))
			}
			if m.DisplayName != "" && m.DisplayName != m.ID {
				fmt.Printf("  %-34s %s\n", m.ID, dimStyle.Render(m.DisplayName))
			} else {
				fmt.Printf("  %s\n", m.ID)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
