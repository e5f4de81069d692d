package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/llm"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show task routing and model pricing",
	Long: `Show which provider and model each pipeline task routes to under the
configured strategy, with the known per-million-token rates.

Per-invocation token usage and estimated cost are printed at the end of
any command that calls a model; this command shows the standing routing
table instead.

Examples:
  workrecap usage
`,
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := openServices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer svc.Close()

		cfg := svc.providerCfg
		if len(cfg.Tasks) == 0 {
			fmt.Println("No tasks configured. Run 'workrecap init' to scaffold providers.toml.")
			return
		}

		fmt.Printf("Strategy: %s\n\n", cfg.StrategyMode())
		fmt.Printf("  %-10s %-10s %-26s %s\n", "TASK", "PROVIDER", "MODEL", "RATE $/MTok in/out")

		var pricing llm.PricingTable
		tasks := make([]string, 0, len(cfg.Tasks))
		for name := range cfg.Tasks {
			tasks = append(tasks, name)
		}
		sort.Strings(tasks)
		for _, task := range tasks {
			tc := cfg.Tasks[task]
			fmt.Printf("  %-10s %-10s %-26s %s\n", task, tc.Provider, tc.Model, rateFor(pricing, tc.Provider, tc.Model))
			if tc.EscalationModel != "" {
				fmt.Printf("  %-10s %-10s %-26s %s\n", "", "escalation", tc.EscalationModel,
					rateFor(pricing, tc.Provider, tc.EscalationModel))
			}
		}
	},
}

func rateFor(pricing llm.PricingTable, provider, model string) string {
	in, out, ok := pricing.Rate(provider, model)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%.2f / %.2f", in, out)
}

func init() {
	rootCmd.AddCommand(usageCmd)
}
