package system

import (
	"github.com/overseerhq/overseer/internal/queue"
	"github.com/overseerhq/overseer/internal/registry"
	"github.com/overseerhq/overseer/internal/supervisor"
	"github.com/overseerhq/overseer/pkg/models"
)

// Status is the aggregate system view served to observers.
type Status struct {
	State      models.SupervisorState `json:"state"`
	StateData  models.StateData       `json:"state_data"`
	TaskCounts queue.Counts           `json:"task_counts"`
	AgentStats registry.Stats         `json:"agent_stats"`
}

// Status returns the aggregate system view.
func (s *System) Status() Status {
	return Status{
		State:      s.supervisor.State(),
		StateData:  s.supervisor.StateData(),
		TaskCounts: s.queue.Counts(),
		AgentStats: s.registry.Stats(),
	}
}

// Tasks returns task snapshots, optionally filtered.
func (s *System) Tasks(f queue.SnapshotFilter) []models.Task {
	return s.queue.Snapshot(f)
}

// Agents returns every agent record.
func (s *System) Agents() []models.Agent {
	return s.registry.All()
}

// Hierarchy returns the standalone delegation tree.
func (s *System) Hierarchy() registry.HierarchyView {
	return s.registry.Hierarchy()
}

// History returns the supervisor's state transition records.
func (s *System) History() []supervisor.TransitionRecord {
	return s.supervisor.History()
}

// Reports returns the supervisor's journal entries.
func (s *System) Reports() []supervisor.ReportEntry {
	return s.supervisor.Journal().Entries()
}
