package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/pkg/models"
)

var (
	submitDescription  string
	submitPriority     string
	submitCapabilities []string
	submitMaxRetries   int
	submitTimeout      time.Duration
	submitBossLevel    bool
	submitHuman        bool
	submitPermissions  []string
)

var submitCmd = &cobra.Command{
	Use:   "submit <task>",
	Short: "Queue a task for the orchestrator",
	Long: `Queue a task in the persistent store.

Requires storage.db_path to be configured; the queued task is picked up
the next time 'overseer serve' starts. Use 'overseer run' instead to
execute a task immediately in-process.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "Detailed task description")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "medium", "Priority: low, medium, high, or urgent")
	submitCmd.Flags().StringSliceVar(&submitCapabilities, "capabilities", nil, "Capabilities the assigned agent must advertise")
	submitCmd.Flags().IntVar(&submitMaxRetries, "max-retries", 3, "Failed attempts tolerated before the task fails")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 0, "Per-attempt execution timeout (0 = none)")
	submitCmd.Flags().BoolVar(&submitBossLevel, "boss", false, "Route to the boss agent only")
	submitCmd.Flags().BoolVar(&submitHuman, "human", false, "Route to human-paired or human-shadow agents only")
	submitCmd.Flags().StringSliceVar(&submitPermissions, "permissions", nil, "Permissions a human-shadow agent must hold")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is not configured; use 'overseer run' for in-memory execution")
	}
	// Submitting must not disturb a running serve loop's control files.
	cfg.Supervisor.ControlDir = ""

	sys, err := buildSystem(cfg, "")
	if err != nil {
		return err
	}
	defer sys.Close()

	id, err := sys.Submit(models.TaskSpec{
		Name:                     strings.Join(args, " "),
		Description:              submitDescription,
		Priority:                 models.ParsePriority(submitPriority),
		RequiredCapabilities:     submitCapabilities,
		RequiresBossLevel:        submitBossLevel,
		RequiresHumanInteraction: submitHuman,
		RequiredPermissions:      submitPermissions,
		MaxRetries:               submitMaxRetries,
		Timeout:                  submitTimeout,
	})
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}

	fmt.Printf("task %s queued (%s priority)\n", id, models.ParsePriority(submitPriority))
	return nil
}
