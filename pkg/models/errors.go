package models

import "fmt"

// ValidationError reports a malformed task or agent specification. It is
// returned synchronously by the mutating operation; nothing is created.
type ValidationError struct {
	// Field names the offending field, when known.
	Field string
	// Reason describes why validation failed.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// RoutingFailure reports that no eligible agent was found for a pending
// task. The task stays pending and is retried on the next tick; routing
// failures do not count against the task's retry budget.
type RoutingFailure struct {
	TaskID string
	Reason string
}

func (e *RoutingFailure) Error() string {
	return fmt.Sprintf("routing: task %s: %s", e.TaskID, e.Reason)
}

// ExecutionFailure reports that an agent's execution contract raised or
// timed out. It counts against the task's retry budget.
type ExecutionFailure struct {
	TaskID  string
	AgentID string
	Reason  string
	Timeout bool
}

func (e *ExecutionFailure) Error() string {
	if e.Timeout {
		return fmt.Sprintf("execution: task %s on agent %s timed out", e.TaskID, e.AgentID)
	}
	return fmt.Sprintf("execution: task %s on agent %s: %s", e.TaskID, e.AgentID, e.Reason)
}

// CapacityError reports that agent creation or scaling was requested beyond
// the hard system cap. Existing agents are unaffected.
type CapacityError struct {
	Requested int
	Cap       int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity: %d agents requested, hard cap is %d", e.Requested, e.Cap)
}

// StateTransitionError reports a supervisor transition absent from the
// transition table. The state is left unchanged.
type StateTransitionError struct {
	From   SupervisorState
	To     SupervisorState
	Reason string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("state machine: %s -> %s: %s", e.From, e.To, e.Reason)
}

// StateGuardViolation reports an externally queued command that is
// incompatible with the current supervisor state. It is recorded as a
// warning, never fatal.
type StateGuardViolation struct {
	Command string
	State   SupervisorState
}

func (e *StateGuardViolation) Error() string {
	return fmt.Sprintf("state guard: command %q rejected in state %s", e.Command, e.State)
}
