// Package supervisor drives the system lifecycle: a state machine over the
// operational states, a periodic tick loop that reacts to workload, and a
// bounded journal of what happened.
package supervisor

import (
	"sync"
	"time"

	"github.com/overseerhq/overseer/pkg/models"
)

// maxHistory bounds the retained transition records.
const maxHistory = 100

// validTransitions is the complete transition table. Absence means the
// transition is rejected. RESTART is the fatal-recovery edge and is
// reachable from every non-terminal state.
var validTransitions = map[models.SupervisorState][]models.SupervisorState{
	models.StateIdle:        {models.StateAwake, models.StateRestart, models.StateStop},
	models.StateAwake:       {models.StateThinking, models.StateExecuting, models.StateIdle, models.StateRestart, models.StateStop},
	models.StateThinking:    {models.StateRethink, models.StateExecuting, models.StateResearching, models.StateAwake, models.StateRestart, models.StateStop},
	models.StateRethink:     {models.StateThinking, models.StateExecuting, models.StateRestart, models.StateStop},
	models.StateExecuting:   {models.StateReflecting, models.StateThinking, models.StateRethink, models.StateRestart, models.StateStop},
	models.StateResearching: {models.StateThinking, models.StateExecuting, models.StateAwake, models.StateRestart, models.StateStop},
	models.StateReflecting:  {models.StateAwake, models.StateIdle, models.StateRestart, models.StateStop},
	models.StateRestart:     {models.StateAwake, models.StateIdle},
	models.StateStop:        {},
}

// TransitionRecord captures one state change for diagnostics.
type TransitionRecord struct {
	// From is the state before the transition.
	From models.SupervisorState `json:"from"`
	// To is the state after the transition.
	To models.SupervisorState `json:"to"`
	// Reason is a short human-readable cause.
	Reason string `json:"reason"`
	// At is when the transition happened.
	At time.Time `json:"at"`
}

// Machine is the supervisor state machine. All transitions pass through
// TransitionTo so the table is enforced in one place.
type Machine struct {
	// mu protects current and history.
	mu      sync.RWMutex
	current models.SupervisorState
	history []TransitionRecord
	now     func() time.Time
}

// NewMachine creates a machine starting in IDLE.
func NewMachine() *Machine {
	return &Machine{current: models.StateIdle, now: time.Now}
}

// SetClock replaces the machine's clock for deterministic tests.
func (m *Machine) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Current returns the current state.
func (m *Machine) Current() models.SupervisorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanTransition reports whether the table permits moving to the state.
func (m *Machine) CanTransition(to models.SupervisorState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canLocked(to)
}

func (m *Machine) canLocked(to models.SupervisorState) bool {
	for _, s := range validTransitions[m.current] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the machine to the state, recording the transition.
// Rejected transitions leave the state unchanged and return a
// StateTransitionError.
func (m *Machine) TransitionTo(to models.SupervisorState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !to.Valid() {
		return &models.StateTransitionError{From: m.current, To: to, Reason: "unknown state"}
	}
	if !m.canLocked(to) {
		return &models.StateTransitionError{From: m.current, To: to, Reason: "transition not permitted"}
	}

	rec := TransitionRecord{From: m.current, To: to, Reason: reason, At: m.now()}
	m.current = to
	m.history = append(m.history, rec)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	debugLog("state %s -> %s (%s)", rec.From, rec.To, reason)
	return nil
}

// History returns a copy of the retained transition records, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TransitionRecord(nil), m.history...)
}
