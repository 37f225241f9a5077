package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/pkg/models"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents",
	Long: `List the persisted agent registry.

Standalone agents are shown as a hierarchy under the boss; human-paired
and human-shadow agents are listed with their human and permissions.`,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
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

	agents, err := db.LoadAgents()
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	var boss *models.Agent
	var subs, paired, shadows []models.Agent
	for i := range agents {
		a := agents[i]
		switch {
		case a.IsBoss():
			boss = &agents[i]
		case a.RoleType == models.RoleStandalone:
			subs = append(subs, a)
		case a.RoleType == models.RoleHumanPaired:
			paired = append(paired, a)
		case a.RoleType == models.RoleHumanShadow:
			shadows = append(shadows, a)
		}
	}

	bold := color.New(color.Bold).SprintFunc()
	if boss != nil {
		fmt.Printf("%s %s\n", bold(boss.ID), agentSummary(*boss))
		for _, a := range subs {
			fmt.Printf("  └─ %s %s\n", bold(a.ID), agentSummary(a))
		}
	} else {
		for _, a := range subs {
			fmt.Printf("%s %s\n", bold(a.ID), agentSummary(a))
		}
	}

	if len(paired) > 0 {
		fmt.Println("\nHuman-paired:")
		for _, a := range paired {
			human := ""
			if a.Pairing != nil {
				human = fmt.Sprintf(" with %s via %s", a.Pairing.HumanID, a.Pairing.ContactChannel)
			}
			fmt.Printf("  %s %s%s\n", bold(a.ID), agentSummary(a), human)
		}
	}
	if len(shadows) > 0 {
		fmt.Println("\nHuman-shadow:")
		for _, a := range shadows {
			fmt.Printf("  %s %s for %s, permissions %v\n",
				bold(a.ID), agentSummary(a), a.RepresentedHumanID, a.ShadowPermissions)
		}
	}
	return nil
}

func agentSummary(a models.Agent) string {
	return fmt.Sprintf("%q [%s] %d/%d task(s), perf %.2f",
		a.Name, statusColor(a.Status), len(a.CurrentTaskIDs), a.MaxConcurrentTasks, a.PerformanceScore)
}

func statusColor(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusActive, models.AgentStatusBusy:
		return color.GreenString(string(s))
	case models.AgentStatusError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}
