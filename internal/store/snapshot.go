package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/overseerhq/overseer/pkg/models"
)

// Snapshot is the persisted system state: every task and agent plus the
// supervisor's last known state.
type Snapshot struct {
	Tasks           []models.Task
	Agents          []models.Agent
	SupervisorState models.SupervisorState
	StateData       models.StateData
	// Repairs lists the fixes applied while revalidating the snapshot.
	Repairs []string
}

// SaveSupervisor persists the supervisor state and workload snapshot.
func (db *DB) SaveSupervisor(state models.SupervisorState, data models.StateData) error {
	encoded, err := marshalJSON(data)
	if err != nil {
		return fmt.Errorf("save supervisor: %w", err)
	}
	_, err = db.Exec(`
		INSERT OR REPLACE INTO supervisor (id, state, data, updated_at)
		VALUES (1, ?, ?, ?)`,
		string(state), encoded, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save supervisor: %w", err)
	}
	return nil
}

// LoadSupervisor returns the persisted supervisor state, or IDLE when none
// was saved.
func (db *DB) LoadSupervisor() (models.SupervisorState, models.StateData, error) {
	var (
		state string
		data  sql.NullString
	)
	row := db.QueryRow("SELECT state, data FROM supervisor WHERE id = 1")
	if err := row.Scan(&state, &data); err != nil {
		if err == sql.ErrNoRows {
			return models.StateIdle, models.StateData{}, nil
		}
		return "", models.StateData{}, fmt.Errorf("load supervisor: %w", err)
	}

	var sd models.StateData
	if err := unmarshalJSON(data, &sd); err != nil {
		return "", models.StateData{}, fmt.Errorf("load supervisor data: %w", err)
	}
	s := models.SupervisorState(state)
	if !s.Valid() {
		s = models.StateIdle
	}
	return s, sd, nil
}

// Load reads the full snapshot and revalidates cross-record invariants.
// A crash can leave running tasks pointing at agents that no longer hold
// them; those tasks are reset to pending for reassignment. Agent task
// lists are pruned to tasks that still exist and still reference the
// agent. Every repair is reported so the caller can journal it.
func (db *DB) Load() (*Snapshot, error) {
	tasks, err := db.LoadTasks()
	if err != nil {
		return nil, err
	}
	agents, err := db.LoadAgents()
	if err != nil {
		return nil, err
	}
	state, data, err := db.LoadSupervisor()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Tasks:           tasks,
		Agents:          agents,
		SupervisorState: state,
		StateData:       data,
	}
	snap.revalidate()
	return snap, nil
}

// revalidate repairs in-flight state. The process that owned the snapshot
// is gone, so no execution survived: every assigned or running task is
// reset to pending and every agent's task list is cleared.
func (s *Snapshot) revalidate() {
	for i := range s.Tasks {
		t := &s.Tasks[i]
		if t.Status.Terminal() {
			continue
		}
		if t.Status == models.TaskStatusRunning || t.AssignedAgentID != "" {
			s.Repairs = append(s.Repairs,
				fmt.Sprintf("task %s: in-flight on %s at shutdown, reset to pending", t.ID, t.AssignedAgentID))
			t.Status = models.TaskStatusPending
			t.AssignedAgentID = ""
			t.StartedAt = nil
		}
	}

	for i := range s.Agents {
		a := &s.Agents[i]
		if len(a.CurrentTaskIDs) > 0 {
			s.Repairs = append(s.Repairs,
				fmt.Sprintf("agent %s: cleared %d stale task reference(s)", a.ID, len(a.CurrentTaskIDs)))
			a.CurrentTaskIDs = nil
		}
		if a.Status != models.AgentStatusError {
			a.Status = models.AgentStatusIdle
		}
	}
}

// SaveSnapshot persists every task and agent plus the supervisor state in
// a single transaction.
func (db *DB) SaveSnapshot(snap Snapshot) error {
	for _, t := range snap.Tasks {
		if err := db.SaveTask(t); err != nil {
			return err
		}
	}
	for _, a := range snap.Agents {
		if err := db.SaveAgent(a); err != nil {
			return err
		}
	}
	return db.SaveSupervisor(snap.SupervisorState, snap.StateData)
}
