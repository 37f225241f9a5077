package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Multi-agent task orchestrator",
	Long: `Overseer routes tasks through a registry of agents supervised by a
boss-level state machine.

Tasks carry capability requirements, priorities, and retry budgets. The
assignment engine scores every eligible agent and hands each task to the
best fit: autonomous standalone agents, human-paired agents that wait on
their collaborator, or human-shadow agents acting within a permission set.

Core capabilities:
- Priority queue with retry backoff and starvation-resistant aging
- Boss/sub-agent hierarchy with capability-based candidate matching
- Supervisor loop that plans, executes, researches, and reflects
- Roster files for declarative agent fleets with auto-scaling targets
- SQLite persistence that survives restarts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (overrides discovery)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration from the --config flag or the usual
// discovery order.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
