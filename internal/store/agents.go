package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/overseerhq/overseer/pkg/models"
)

// SaveAgent inserts or replaces the agent record.
func (db *DB) SaveAgent(a models.Agent) error {
	pairing, err := marshalJSON(a.Pairing)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	perms, err := marshalJSON(a.ShadowPermissions)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	caps, err := marshalJSON(a.Capabilities)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	taskIDs, err := marshalJSON(a.CurrentTaskIDs)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO agents (
			id, name, role_type, hierarchy_level, parent_agent_id, pairing,
			represented_human_id, represented_human_name, shadow_permissions,
			capabilities, max_concurrent_tasks, current_task_ids, status,
			performance_score, total_completed, success_rate, avg_response_ns,
			created_at, last_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.RoleType), string(a.HierarchyLevel), a.ParentAgentID, pairing,
		a.RepresentedHumanID, a.RepresentedHumanName, perms,
		caps, a.MaxConcurrentTasks, taskIDs, string(a.Status),
		a.PerformanceScore, a.TotalCompleted, a.SuccessRate, int64(a.AverageResponseTime),
		formatTime(a.CreatedAt), formatTime(a.LastActive),
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAgent removes the agent record.
func (db *DB) DeleteAgent(agentID string) error {
	_, err := db.Exec("DELETE FROM agents WHERE id = ?", agentID)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

// LoadAgents returns every persisted agent.
func (db *DB) LoadAgents() ([]models.Agent, error) {
	rows, err := db.Query(`
		SELECT id, name, role_type, hierarchy_level, parent_agent_id, pairing,
			represented_human_id, represented_human_name, shadow_permissions,
			capabilities, max_concurrent_tasks, current_task_ids, status,
			performance_score, total_completed, success_rate, avg_response_ns,
			created_at, last_active
		FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("load agents: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(rows *sql.Rows) (models.Agent, error) {
	var (
		a                           models.Agent
		hierarchy, parentID         sql.NullString
		pairing, perms, caps, tasks sql.NullString
		humanID, humanName          sql.NullString
		avgResponseNS               int64
		createdAt, lastActive       string
	)
	err := rows.Scan(
		&a.ID, &a.Name, &a.RoleType, &hierarchy, &parentID, &pairing,
		&humanID, &humanName, &perms,
		&caps, &a.MaxConcurrentTasks, &tasks, &a.Status,
		&a.PerformanceScore, &a.TotalCompleted, &a.SuccessRate, &avgResponseNS,
		&createdAt, &lastActive,
	)
	if err != nil {
		return models.Agent{}, err
	}

	a.HierarchyLevel = models.HierarchyLevel(hierarchy.String)
	a.ParentAgentID = parentID.String
	a.RepresentedHumanID = humanID.String
	a.RepresentedHumanName = humanName.String
	a.AverageResponseTime = time.Duration(avgResponseNS)

	if pairing.Valid && pairing.String != "" && pairing.String != "null" {
		var p models.HumanPairing
		if err := unmarshalJSON(pairing, &p); err != nil {
			return models.Agent{}, fmt.Errorf("agent %s pairing: %w", a.ID, err)
		}
		a.Pairing = &p
	}
	if err := unmarshalJSON(perms, &a.ShadowPermissions); err != nil {
		return models.Agent{}, fmt.Errorf("agent %s permissions: %w", a.ID, err)
	}
	if err := unmarshalJSON(caps, &a.Capabilities); err != nil {
		return models.Agent{}, fmt.Errorf("agent %s capabilities: %w", a.ID, err)
	}
	if err := unmarshalJSON(tasks, &a.CurrentTaskIDs); err != nil {
		return models.Agent{}, fmt.Errorf("agent %s task ids: %w", a.ID, err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Agent{}, fmt.Errorf("agent %s created_at: %w", a.ID, err)
	}
	if a.LastActive, err = parseTime(lastActive); err != nil {
		return models.Agent{}, fmt.Errorf("agent %s last_active: %w", a.ID, err)
	}
	return a, nil
}
