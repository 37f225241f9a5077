package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and not yet running.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being executed by an agent.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskPriority orders tasks across priority bands. Higher values are served first.
type TaskPriority int

const (
	// PriorityLow is background work.
	PriorityLow TaskPriority = iota
	// PriorityMedium is the default priority.
	PriorityMedium
	// PriorityHigh is served before medium and low work.
	PriorityHigh
	// PriorityUrgent preempts all other bands.
	PriorityUrgent
)

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// String returns the lowercase name of the priority.
func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a TaskPriority.
// Unknown names map to PriorityMedium.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityMedium
	}
}

// TaskSpec is the caller-supplied definition of a task to submit.
type TaskSpec struct {
	// Name is the short description of the task. Required.
	Name string `json:"name"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// RequiredCapabilities lists symbolic capabilities an agent must advertise.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// Priority is the scheduling band for the task.
	Priority TaskPriority `json:"priority"`
	// PreferredRole is an optional hint for agent role selection.
	PreferredRole AgentRoleType `json:"preferred_role,omitempty"`
	// RequiresBossLevel restricts assignment to the boss agent.
	RequiresBossLevel bool `json:"requires_boss_level,omitempty"`
	// RequiresHumanInteraction restricts assignment to human-paired or
	// human-shadow agents.
	RequiresHumanInteraction bool `json:"requires_human_interaction,omitempty"`
	// RequiredPermissions restricts human-shadow candidates to those whose
	// permission set covers these entries.
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	// MaxRetries is the number of failed executions tolerated before the
	// task fails terminally.
	MaxRetries int `json:"max_retries"`
	// Timeout bounds a single execution attempt. Zero means no timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Payload is an opaque input forwarded to the execution contract.
	Payload any `json:"payload,omitempty"`
}

// Task represents a unit of work owned by the task queue.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Name is the short description of the task.
	Name string `json:"name"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// RequiredCapabilities lists symbolic capabilities an agent must advertise.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// Priority is the scheduling band for the task.
	Priority TaskPriority `json:"priority"`
	// PreferredRole is an optional hint for agent role selection.
	PreferredRole AgentRoleType `json:"preferred_role,omitempty"`
	// RequiresBossLevel restricts assignment to the boss agent.
	RequiresBossLevel bool `json:"requires_boss_level,omitempty"`
	// RequiresHumanInteraction restricts assignment to human-paired or
	// human-shadow agents.
	RequiresHumanInteraction bool `json:"requires_human_interaction,omitempty"`
	// RequiredPermissions restricts human-shadow candidates.
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedAgentID is the agent currently holding this task, if any.
	// A task has at most one assignee at any time.
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	// RetryCount is the number of failed execution attempts so far.
	// It never exceeds MaxRetries.
	RetryCount int `json:"retry_count"`
	// MaxRetries is the retry budget for this task.
	MaxRetries int `json:"max_retries"`
	// RoutingFailures counts consecutive scheduling ticks on which no
	// eligible agent was found. Reset on successful assignment.
	RoutingFailures int `json:"routing_failures,omitempty"`
	// Timeout bounds a single execution attempt. Zero means no timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// EligibleAt is the earliest time the task may be assigned again.
	// Set by the retry backoff after a failed attempt.
	EligibleAt time.Time `json:"eligible_at"`
	// StartedAt is when the current (or last) execution attempt began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// ErrorMessage contains the most recent failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`
	// Result is the opaque payload produced by a successful execution.
	Result any `json:"result,omitempty"`
	// Payload is the opaque input forwarded to the execution contract.
	Payload any `json:"payload,omitempty"`
}

// CapabilityOverlap returns the fraction of the task's required capabilities
// covered by the given set. Returns 1.0 when the task requires none.
func (t *Task) CapabilityOverlap(capabilities []string) float64 {
	if len(t.RequiredCapabilities) == 0 {
		return 1.0
	}
	have := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		have[c] = true
	}
	matched := 0
	for _, c := range t.RequiredCapabilities {
		if have[c] {
			matched++
		}
	}
	return float64(matched) / float64(len(t.RequiredCapabilities))
}
