package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted orchestrator state",
	Long: `Display the last persisted state of the orchestrator.

Shows:
  - Supervisor state and workload snapshot
  - Task counts by status
  - Registered agents and their load
  - Recently finished tasks`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = store.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No persisted state. Run 'overseer serve' to start.")
		return nil
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// Read raw records rather than the repairing snapshot loader; a serve
	// instance may still own this state.
	tasks, err := db.LoadTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	agents, err := db.LoadAgents()
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	state, data, err := db.LoadSupervisor()
	if err != nil {
		return fmt.Errorf("load supervisor: %w", err)
	}

	fmt.Printf("Supervisor: %s\n", state)
	fmt.Printf("  Workload: %d pending, %d running\n", data.PendingTasks, data.RunningTasks)
	fmt.Printf("  Processed: %d (success rate %.0f%%)\n", data.TotalProcessed, data.SuccessRate*100)
	if data.LastReflection != nil {
		fmt.Printf("  Last reflection: %s ago\n", formatDuration(time.Since(*data.LastReflection)))
	}

	counts := map[models.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	fmt.Printf("\nTasks: %d total\n", len(tasks))
	for _, s := range []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusRunning,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	} {
		if counts[s] > 0 {
			fmt.Printf("  %s: %d\n", s, counts[s])
		}
	}

	fmt.Printf("\nAgents: %d registered\n", len(agents))
	for _, a := range agents {
		role := string(a.RoleType)
		if a.IsBoss() {
			role = "boss"
		}
		fmt.Printf("  %s: %q [%s] %d/%d task(s), perf %.2f\n",
			a.ID, a.Name, role, len(a.CurrentTaskIDs), a.MaxConcurrentTasks, a.PerformanceScore)
	}

	recent := recentFinished(tasks, 5)
	if len(recent) > 0 {
		fmt.Println("\nRecently finished:")
		for _, t := range recent {
			elapsed := ""
			if t.CompletedAt != nil {
				elapsed = fmt.Sprintf(" (%s ago)", formatDuration(time.Since(*t.CompletedAt)))
			}
			fmt.Printf("  %s: %q %s%s\n", t.ID, t.Name, t.Status, elapsed)
		}
	}
	return nil
}

// recentFinished returns up to n terminal tasks, most recent first.
func recentFinished(tasks []models.Task, n int) []models.Task {
	var done []models.Task
	for _, t := range tasks {
		if t.Status.Terminal() && t.CompletedAt != nil {
			done = append(done, t)
		}
	}
	for i := 0; i < len(done); i++ {
		for j := i + 1; j < len(done); j++ {
			if done[j].CompletedAt.After(*done[i].CompletedAt) {
				done[i], done[j] = done[j], done[i]
			}
		}
	}
	if len(done) > n {
		done = done[:n]
	}
	return done
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
