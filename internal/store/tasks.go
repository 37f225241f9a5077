package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/overseerhq/overseer/pkg/models"
)

// SaveTask inserts or replaces the task record.
func (db *DB) SaveTask(t models.Task) error {
	caps, err := marshalJSON(t.RequiredCapabilities)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	perms, err := marshalJSON(t.RequiredPermissions)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	result, err := marshalJSON(t.Result)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	payload, err := marshalJSON(t.Payload)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO tasks (
			id, name, description, required_capabilities, priority,
			preferred_role, requires_boss_level, requires_human_interaction,
			required_permissions, status, assigned_agent_id, retry_count,
			max_retries, routing_failures, timeout_ns, created_at,
			eligible_at, started_at, completed_at, error_message, result, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, caps, int(t.Priority),
		string(t.PreferredRole), boolToInt(t.RequiresBossLevel), boolToInt(t.RequiresHumanInteraction),
		perms, string(t.Status), t.AssignedAgentID, t.RetryCount,
		t.MaxRetries, t.RoutingFailures, int64(t.Timeout), formatTime(t.CreatedAt),
		formatTime(t.EligibleAt), formatNullableTime(t.StartedAt), formatNullableTime(t.CompletedAt),
		t.ErrorMessage, result, payload,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes the task record.
func (db *DB) DeleteTask(taskID string) error {
	_, err := db.Exec("DELETE FROM tasks WHERE id = ?", taskID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

// LoadTasks returns every persisted task.
func (db *DB) LoadTasks() ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT id, name, description, required_capabilities, priority,
			preferred_role, requires_boss_level, requires_human_interaction,
			required_permissions, status, assigned_agent_id, retry_count,
			max_retries, routing_failures, timeout_ns, created_at,
			eligible_at, started_at, completed_at, error_message, result, payload
		FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("load tasks: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(rows *sql.Rows) (models.Task, error) {
	var (
		t                          models.Task
		caps, perms                sql.NullString
		preferredRole, assignedTo  sql.NullString
		description, errMsg        sql.NullString
		result, payload            sql.NullString
		bossLevel, humanInteract   int
		priority                   int
		timeoutNS                  int64
		createdAt, eligibleAt      string
		startedAt, completedAt     sql.NullString
	)
	err := rows.Scan(
		&t.ID, &t.Name, &description, &caps, &priority,
		&preferredRole, &bossLevel, &humanInteract,
		&perms, &t.Status, &assignedTo, &t.RetryCount,
		&t.MaxRetries, &t.RoutingFailures, &timeoutNS, &createdAt,
		&eligibleAt, &startedAt, &completedAt, &errMsg, &result, &payload,
	)
	if err != nil {
		return models.Task{}, err
	}

	t.Description = description.String
	t.Priority = models.TaskPriority(priority)
	t.PreferredRole = models.AgentRoleType(preferredRole.String)
	t.RequiresBossLevel = bossLevel != 0
	t.RequiresHumanInteraction = humanInteract != 0
	t.AssignedAgentID = assignedTo.String
	t.Timeout = time.Duration(timeoutNS)
	t.ErrorMessage = errMsg.String
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Task{}, fmt.Errorf("task %s created_at: %w", t.ID, err)
	}
	if t.EligibleAt, err = parseTime(eligibleAt); err != nil {
		return models.Task{}, fmt.Errorf("task %s eligible_at: %w", t.ID, err)
	}
	if err := unmarshalJSON(caps, &t.RequiredCapabilities); err != nil {
		return models.Task{}, fmt.Errorf("task %s capabilities: %w", t.ID, err)
	}
	if err := unmarshalJSON(perms, &t.RequiredPermissions); err != nil {
		return models.Task{}, fmt.Errorf("task %s permissions: %w", t.ID, err)
	}
	if err := unmarshalJSON(result, &t.Result); err != nil {
		return models.Task{}, fmt.Errorf("task %s result: %w", t.ID, err)
	}
	if err := unmarshalJSON(payload, &t.Payload); err != nil {
		return models.Task{}, fmt.Errorf("task %s payload: %w", t.ID, err)
	}
	return t, nil
}

// marshalJSON encodes a value for a TEXT column. Nil values store as NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// unmarshalJSON decodes a TEXT column into dst, leaving dst untouched for NULL.
func unmarshalJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
