// Package assign matches eligible tasks to suitable agents. It is the only
// component that couples the task queue to the agent registry, keeping the
// two stores independently lockable.
package assign

import (
	"fmt"
	"sort"
	"time"

	"github.com/overseerhq/overseer/internal/queue"
	"github.com/overseerhq/overseer/internal/registry"
	"github.com/overseerhq/overseer/pkg/models"
)

// Weights tune the suitability score. Each factor is normalized to [0,1]
// before weighting; load subtracts from the total.
type Weights struct {
	RoleMatch   float64
	Hierarchy   float64
	Capability  float64
	Performance float64
	Load        float64
}

// DefaultWeights favors hierarchy fit and keeps load as a light penalty.
func DefaultWeights() Weights {
	return Weights{
		RoleMatch:   2.0,
		Hierarchy:   3.0,
		Capability:  2.0,
		Performance: 2.0,
		Load:        1.0,
	}
}

// Assignment pairs a task with the agent that will execute it.
type Assignment struct {
	Task  models.Task
	Agent models.Agent
}

// Engine scores candidates and claims agent slots for tasks.
type Engine struct {
	queue    *queue.TaskQueue
	registry *registry.AgentRegistry
	weights  Weights
}

// New creates an Engine over the given queue and registry.
func New(q *queue.TaskQueue, r *registry.AgentRegistry, w Weights) *Engine {
	return &Engine{queue: q, registry: r, weights: w}
}

// AssignNext assigns the highest-priority eligible task to the most
// suitable agent. Returns (nil, nil) when no task is eligible. When no
// agent can take the task it records a routing failure on the task and
// returns a RoutingFailure error; the task may have been abandoned if its
// routing budget ran out.
func (e *Engine) AssignNext() (*Assignment, error) {
	t := e.queue.NextEligible(queue.Filter{})
	if t == nil {
		return nil, nil
	}

	candidates := e.registry.FindCandidates(*t)
	if len(candidates) == 0 {
		return nil, e.routingFailure(t, "no eligible agent")
	}

	scored := e.rank(*t, candidates)
	for _, c := range scored {
		// Candidates are copies; the slot reservation is the atomic
		// claim. A lost race just moves on to the next candidate.
		if err := e.registry.ReserveSlot(c.agent.ID, t.ID); err != nil {
			continue
		}
		if err := e.queue.MarkAssigned(t.ID, c.agent.ID); err != nil {
			e.registry.ReleaseSlot(c.agent.ID, t.ID)
			return nil, fmt.Errorf("assign task %s: %w", t.ID, err)
		}
		assigned, _ := e.queue.Get(t.ID)
		agent, _ := e.registry.Get(c.agent.ID)
		return &Assignment{Task: assigned, Agent: agent}, nil
	}
	return nil, e.routingFailure(t, "all candidates at capacity")
}

func (e *Engine) routingFailure(t *models.Task, reason string) error {
	if abandoned := e.queue.RecordRoutingFailure(t.ID); abandoned {
		reason += "; routing budget exhausted"
	}
	return &models.RoutingFailure{TaskID: t.ID, Reason: reason}
}

type scoredAgent struct {
	agent models.Agent
	score float64
}

// rank orders candidates by suitability, best first. Ties break on
// performance, then load, then ID for determinism.
func (e *Engine) rank(t models.Task, candidates []models.Agent) []scoredAgent {
	scored := make([]scoredAgent, 0, len(candidates))
	for _, a := range candidates {
		scored = append(scored, scoredAgent{agent: a, score: e.Score(t, a)})
	}
	sort.Slice(scored, func(i, j int) bool {
		si, sj := scored[i], scored[j]
		if si.score != sj.score {
			return si.score > sj.score
		}
		if si.agent.PerformanceScore != sj.agent.PerformanceScore {
			return si.agent.PerformanceScore > sj.agent.PerformanceScore
		}
		if li, lj := si.agent.LoadRatio(), sj.agent.LoadRatio(); li != lj {
			return li < lj
		}
		return si.agent.ID < sj.agent.ID
	})
	return scored
}

// Score computes the weighted suitability of the agent for the task.
func (e *Engine) Score(t models.Task, a models.Agent) float64 {
	w := e.weights
	return w.RoleMatch*roleMatch(t, a) +
		w.Hierarchy*hierarchyPreference(t, a) +
		w.Capability*t.CapabilityOverlap(a.Capabilities) +
		w.Performance*a.PerformanceScore -
		w.Load*a.LoadRatio()
}

// roleMatch scores the task's role hint. No hint is neutral.
func roleMatch(t models.Task, a models.Agent) float64 {
	if t.PreferredRole == "" {
		return 0.5
	}
	if t.PreferredRole == a.RoleType {
		return 1.0
	}
	return 0.0
}

// hierarchyPreference steers routine work toward sub-agents so the boss
// stays free for coordination and boss-level tasks.
func hierarchyPreference(t models.Task, a models.Agent) float64 {
	if t.RequiresBossLevel {
		if a.IsBoss() {
			return 1.0
		}
		return 0.0
	}
	if a.RoleType != models.RoleStandalone {
		return 0.5
	}
	if a.IsBoss() {
		return 0.25
	}
	return 1.0
}

// Begin moves an assigned task into execution.
func (e *Engine) Begin(taskID string) error {
	return e.queue.MarkRunning(taskID)
}

// Complete records a successful execution: the task is finalized, the
// agent's slot is released, and its counters absorb the outcome. The
// queue rejects the report if the task was requeued and reassigned since
// this agent started it, so a late completion from a superseded attempt
// neither completes the task nor credits the agent.
func (e *Engine) Complete(taskID, agentID string, result any, duration time.Duration) error {
	if err := e.queue.MarkCompleted(taskID, agentID, result); err != nil {
		return err
	}
	e.registry.ReleaseSlot(agentID, taskID)
	e.registry.RecordOutcome(agentID, true, duration)
	return nil
}

// Fail records a failed execution attempt. The queue decides whether the
// task retries or fails terminally; the agent's slot is always released.
func (e *Engine) Fail(taskID, agentID, errMsg string, duration time.Duration) error {
	if err := e.queue.MarkFailed(taskID, agentID, errMsg); err != nil {
		return err
	}
	e.registry.ReleaseSlot(agentID, taskID)
	e.registry.RecordOutcome(agentID, false, duration)
	return nil
}

// HandleTimeouts expires overdue running tasks and releases the slots
// their agents were holding. Returns the expired pairs.
func (e *Engine) HandleTimeouts(now time.Time) []queue.TimedOut {
	expired := e.queue.TimeoutSweep(now)
	for _, to := range expired {
		if to.AgentID == "" {
			continue
		}
		e.registry.ReleaseSlot(to.AgentID, to.TaskID)
		if t, ok := e.queue.Get(to.TaskID); ok {
			e.registry.RecordOutcome(to.AgentID, false, t.Timeout)
		}
	}
	return expired
}
