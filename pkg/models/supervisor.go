package models

import "time"

// SupervisorState is the process-wide lifecycle state of the supervisor.
type SupervisorState string

const (
	// StateIdle indicates no work is queued.
	StateIdle SupervisorState = "idle"
	// StateAwake indicates work has arrived and is being assessed.
	StateAwake SupervisorState = "awake"
	// StateThinking indicates the supervisor is planning assignments.
	StateThinking SupervisorState = "thinking"
	// StateRethink indicates the current plan was rejected and is being revised.
	StateRethink SupervisorState = "rethink"
	// StateExecuting indicates the assignment engine may run.
	StateExecuting SupervisorState = "executing"
	// StateResearching indicates the supervisor is investigating errors.
	StateResearching SupervisorState = "researching"
	// StateReflecting indicates a self-analysis pass is running.
	StateReflecting SupervisorState = "reflecting"
	// StateRestart indicates invariants are being re-established.
	StateRestart SupervisorState = "restart"
	// StateStop is the terminal shutdown state.
	StateStop SupervisorState = "stop"
)

// Valid returns true if the state is a known value.
func (s SupervisorState) Valid() bool {
	switch s {
	case StateIdle, StateAwake, StateThinking, StateRethink, StateExecuting,
		StateResearching, StateReflecting, StateRestart, StateStop:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state machine has shut down.
func (s SupervisorState) Terminal() bool {
	return s == StateStop
}

// StateData is the workload snapshot recomputed by the supervisor on every
// tick. It feeds transition guards and the observability interface.
type StateData struct {
	// PendingTasks is the number of tasks waiting for assignment.
	PendingTasks int `json:"pending_tasks"`
	// RunningTasks is the number of tasks currently executing.
	RunningTasks int `json:"running_tasks"`
	// CurrentWorkload is pending plus running tasks.
	CurrentWorkload int `json:"current_workload"`
	// ActiveAgents is the number of agents with at least one task.
	ActiveAgents int `json:"active_agents"`
	// TotalProcessed is completed plus failed tasks over the process lifetime.
	TotalProcessed int `json:"total_processed"`
	// SuccessRate is completed/(completed+failed) over the rolling window.
	SuccessRate float64 `json:"success_rate"`
	// SystemErrors lists unresolved error messages observed by the supervisor.
	SystemErrors []string `json:"system_errors,omitempty"`
	// LastReflection is when the last reflection pass completed.
	LastReflection *time.Time `json:"last_reflection,omitempty"`
	// ReflectionNotes summarizes the last reflection pass.
	ReflectionNotes string `json:"reflection_notes,omitempty"`
	// ImprovementActions lists suggestions produced by reflection, consumed
	// by the scaling policy.
	ImprovementActions []string `json:"improvement_actions,omitempty"`
}
