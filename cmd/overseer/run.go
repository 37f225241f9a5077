package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/system"
	"github.com/overseerhq/overseer/pkg/models"
)

var (
	runDescription  string
	runPriority     string
	runCapabilities []string
	runMaxRetries   int
	runTimeout      time.Duration
	runBossLevel    bool
	runRoster       string
	runWorkers      int
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a single task to completion",
	Long: `Submit one task and drive the orchestrator until it finishes.

A boss agent is created automatically, plus --workers standalone
sub-agents unless a roster file supplies the fleet. The command exits
when the task reaches a terminal state and prints its result.

Without an Anthropic API key the task completes with a synthesized
acknowledgement, which is useful for checking routing and roster
configuration.

Examples:
  overseer run "summarize the quarterly report"
  overseer run "deploy staging" --capabilities deploy --priority urgent
  overseer run "triage incident" --roster team.yaml --timeout 5m`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runDescription, "description", "", "Detailed task description")
	runCmd.Flags().StringVar(&runPriority, "priority", "medium", "Priority: low, medium, high, or urgent")
	runCmd.Flags().StringSliceVar(&runCapabilities, "capabilities", nil, "Capabilities the assigned agent must advertise")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 3, "Failed attempts tolerated before the task fails")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-attempt execution timeout (0 = none)")
	runCmd.Flags().BoolVar(&runBossLevel, "boss", false, "Route to the boss agent only")
	runCmd.Flags().StringVar(&runRoster, "roster", "", "Roster YAML file describing the agent fleet")
	runCmd.Flags().IntVar(&runWorkers, "workers", 2, "Standalone sub-agents to create when no roster is given")
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot runs keep everything in memory and ignore control files.
	cfg.Storage.DBPath = ""
	cfg.Supervisor.ControlDir = ""

	sys, err := buildSystem(cfg, runRoster)
	if err != nil {
		return err
	}
	defer sys.Close()

	if _, err := sys.EnsureBoss(); err != nil {
		return fmt.Errorf("ensure boss agent: %w", err)
	}
	if runRoster == "" {
		for i := 0; i < runWorkers; i++ {
			name := fmt.Sprintf("worker-%d", i+1)
			if _, err := sys.Registry().CreateStandalone(name, runCapabilities, models.LevelSubAgent, ""); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
		}
	}

	id, err := sys.Submit(models.TaskSpec{
		Name:                 strings.Join(args, " "),
		Description:          runDescription,
		Priority:             models.ParsePriority(runPriority),
		RequiredCapabilities: runCapabilities,
		RequiresBossLevel:    runBossLevel,
		MaxRetries:           runMaxRetries,
		Timeout:              runTimeout,
	})
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	fmt.Printf("task %s queued\n", id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ticker := time.NewTicker(cfg.Supervisor.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted; task %s left %s", id, taskStatus(sys, id))
		case <-ticker.C:
			sys.Tick(ctx)
		}

		t, ok := sys.Queue().Get(id)
		if !ok {
			return fmt.Errorf("task %s disappeared", id)
		}
		if !t.Status.Terminal() {
			continue
		}

		switch t.Status {
		case models.TaskStatusCompleted:
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s task completed\n", green("✓"))
			if t.Result != nil {
				fmt.Printf("%v\n", t.Result)
			}
			return nil
		case models.TaskStatusFailed:
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s task failed after %d attempt(s)\n", red("✗"), t.RetryCount)
			if t.ErrorMessage != "" {
				fmt.Println(t.ErrorMessage)
			}
			return fmt.Errorf("task %s failed", id)
		default:
			return fmt.Errorf("task %s was cancelled", id)
		}
	}
}

func taskStatus(sys *system.System, id string) string {
	t, ok := sys.Queue().Get(id)
	if !ok {
		return "unknown"
	}
	return string(t.Status)
}
