package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var serveRoster string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator loop",
	Long: `Run the resident orchestrator.

The supervisor ticks continuously: it wakes on pending work, plans when
the workload is heavy, assigns tasks to the best-scoring agents, and
reflects on idle capacity. State is persisted to the configured SQLite
database so a restart resumes where the last run stopped.

Stop with Ctrl-C, or by touching a 'stop' file in the control directory.
A 'pause' file suspends assignment until a 'resume' file appears.

Use --roster to register an agent fleet from a YAML file before the
loop starts. Tasks queued earlier with 'overseer submit' are picked up
from the database.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveRoster, "roster", "", "Roster YAML file describing the agent fleet")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sys, err := buildSystem(cfg, serveRoster)
	if err != nil {
		return err
	}
	defer sys.Close()

	if _, err := sys.EnsureBoss(); err != nil {
		return fmt.Errorf("ensure boss agent: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s overseer is running\n", green("✓"))
	fmt.Printf("  agents:  %d registered\n", sys.Registry().Count())
	fmt.Printf("  pending: %d task(s)\n", sys.Queue().Counts().Pending)
	if cfg.Storage.DBPath != "" {
		fmt.Printf("  state:   %s\n", cfg.Storage.DBPath)
	}
	if cfg.Supervisor.ControlDir != "" {
		fmt.Printf("  control: %s\n", cfg.Supervisor.ControlDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		cancel()
	}()

	if err := sys.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	counts := sys.Queue().Counts()
	fmt.Printf("stopped: %d completed, %d failed, %d pending\n",
		counts.Completed, counts.Failed, counts.Pending)
	return nil
}
