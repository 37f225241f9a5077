package models

import "time"

// BossAgentID is the reserved identifier for the single boss agent at the
// root of the standalone hierarchy.
const BossAgentID = "agent-0"

// AgentRoleType distinguishes the three kinds of workers in the system.
type AgentRoleType string

const (
	// RoleStandalone is an autonomous agent, either the boss or a sub-agent.
	RoleStandalone AgentRoleType = "standalone"
	// RoleHumanPaired is an agent collaborating with a specific human in
	// real time.
	RoleHumanPaired AgentRoleType = "human_paired"
	// RoleHumanShadow is an agent acting on a human's behalf within a fixed
	// permission set.
	RoleHumanShadow AgentRoleType = "human_shadow"
)

// Valid returns true if the role type is a known value.
func (r AgentRoleType) Valid() bool {
	switch r {
	case RoleStandalone, RoleHumanPaired, RoleHumanShadow:
		return true
	default:
		return false
	}
}

// HierarchyLevel places a standalone agent in the delegation hierarchy.
type HierarchyLevel string

const (
	// LevelBoss is the singular top-level agent.
	LevelBoss HierarchyLevel = "boss"
	// LevelSubAgent is a subordinate of the boss.
	LevelSubAgent HierarchyLevel = "sub_agent"
)

// AgentStatus represents the operational state of an agent.
type AgentStatus string

const (
	// AgentStatusActive indicates the agent has work but spare capacity.
	AgentStatusActive AgentStatus = "active"
	// AgentStatusIdle indicates the agent has no current tasks.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is at its concurrency limit.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusError indicates the agent is unhealthy and excluded from
	// assignment.
	AgentStatusError AgentStatus = "error"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusActive, AgentStatusIdle, AgentStatusBusy, AgentStatusError:
		return true
	default:
		return false
	}
}

// HumanPairing records the human collaborator bound to a human-paired agent.
type HumanPairing struct {
	// HumanID identifies the paired human.
	HumanID string `json:"human_id"`
	// HumanName is the display name of the paired human.
	HumanName string `json:"human_name"`
	// ContactChannel names the channel used to reach the human.
	ContactChannel string `json:"contact_channel"`
	// CollaborationLevel is "light", "standard", or "intensive".
	CollaborationLevel string `json:"collaboration_level,omitempty"`
}

// Agent represents a worker entity owned by the agent registry.
// Role-specific fields are populated according to RoleType: standalone agents
// carry HierarchyLevel and ParentAgentID, human-paired agents carry Pairing,
// and human-shadow agents carry the represented-human fields.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the display name of the agent.
	Name string `json:"name"`
	// RoleType selects which role-specific fields are meaningful.
	RoleType AgentRoleType `json:"role_type"`

	// HierarchyLevel is set for standalone agents only.
	HierarchyLevel HierarchyLevel `json:"hierarchy_level,omitempty"`
	// ParentAgentID references the boss for sub-agents. It is a lookup
	// back-reference, not an ownership edge.
	ParentAgentID string `json:"parent_agent_id,omitempty"`

	// Pairing is set for human-paired agents only.
	Pairing *HumanPairing `json:"pairing,omitempty"`

	// RepresentedHumanID is set for human-shadow agents only.
	RepresentedHumanID string `json:"represented_human_id,omitempty"`
	// RepresentedHumanName is the display name of the represented human.
	RepresentedHumanName string `json:"represented_human_name,omitempty"`
	// ShadowPermissions bounds what the shadow may do on the human's behalf.
	ShadowPermissions []string `json:"shadow_permissions,omitempty"`

	// Capabilities lists the symbolic capabilities this agent advertises.
	Capabilities []string `json:"capabilities,omitempty"`
	// MaxConcurrentTasks bounds the size of CurrentTaskIDs.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	// CurrentTaskIDs lists the tasks currently held by this agent.
	CurrentTaskIDs []string `json:"current_task_ids,omitempty"`
	// Status is the operational state of the agent.
	Status AgentStatus `json:"status"`

	// PerformanceScore is a weighted quality score in [0,1].
	PerformanceScore float64 `json:"performance_score"`
	// TotalCompleted counts successfully completed tasks.
	TotalCompleted int `json:"total_completed"`
	// SuccessRate is an exponential moving average of execution outcomes.
	SuccessRate float64 `json:"success_rate"`
	// AverageResponseTime is an exponential moving average of execution
	// durations.
	AverageResponseTime time.Duration `json:"average_response_time"`

	// CreatedAt is when the agent was registered.
	CreatedAt time.Time `json:"created_at"`
	// LastActive is updated whenever the agent starts or finishes work.
	LastActive time.Time `json:"last_active"`
}

// IsBoss reports whether this agent is the boss of the standalone hierarchy.
func (a *Agent) IsBoss() bool {
	return a.RoleType == RoleStandalone && a.HierarchyLevel == LevelBoss
}

// HasTask reports whether the agent currently holds the given task.
func (a *Agent) HasTask(taskID string) bool {
	for _, id := range a.CurrentTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// LoadRatio returns len(CurrentTaskIDs)/MaxConcurrentTasks in [0,1].
func (a *Agent) LoadRatio() float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 1.0
	}
	return float64(len(a.CurrentTaskIDs)) / float64(a.MaxConcurrentTasks)
}

// AtCapacity reports whether the agent cannot accept another task.
func (a *Agent) AtCapacity() bool {
	return len(a.CurrentTaskIDs) >= a.MaxConcurrentTasks
}

// HasCapabilities reports whether the agent's capability set is a superset
// of required.
func (a *Agent) HasCapabilities(required []string) bool {
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}

// HasPermissions reports whether the shadow permission set covers required.
func (a *Agent) HasPermissions(required []string) bool {
	have := make(map[string]bool, len(a.ShadowPermissions))
	for _, p := range a.ShadowPermissions {
		have[p] = true
	}
	for _, p := range required {
		if !have[p] {
			return false
		}
	}
	return true
}
