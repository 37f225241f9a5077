// Package queue owns task records and their state transitions. It provides
// priority ordering with FIFO semantics within a band, retry bookkeeping
// with exponential backoff, and timeout sweeps for stuck executions.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overseerhq/overseer/pkg/models"
)

// Config contains tunables for the task queue.
type Config struct {
	// BackoffBase is the delay before the first retry becomes eligible.
	BackoffBase time.Duration
	// BackoffCap bounds the exponential retry delay.
	BackoffCap time.Duration
	// AgingThreshold is how long a pending task waits before its effective
	// priority gains one band. Zero disables priority aging.
	AgingThreshold time.Duration
	// RoutingMaxAttempts abandons a task after this many consecutive
	// routing failures. Zero means unbounded.
	RoutingMaxAttempts int
}

// DefaultConfig returns the default queue tunables.
func DefaultConfig() Config {
	return Config{
		BackoffBase:    2 * time.Second,
		BackoffCap:     5 * time.Minute,
		AgingThreshold: 5 * time.Minute,
	}
}

// TaskQueue is the exclusive owner of task records. All mutations go
// through its Mark* operations; reads return copies so callers never hold
// live references under concurrent mutation.
type TaskQueue struct {
	// tasks maps task IDs to task records.
	tasks map[string]*models.Task
	cfg   Config
	// now is the injected clock, replaceable in tests.
	now func() time.Time
	// mu protects all fields.
	mu sync.RWMutex
}

// Filter narrows what NextEligible may return.
type Filter struct {
	// Capabilities, when non-empty, restricts to tasks whose required
	// capabilities are a subset of this set.
	Capabilities []string
	// Role, when set, restricts to tasks preferring this role or stating
	// no preference.
	Role models.AgentRoleType
}

// New creates a TaskQueue with the given tunables.
func New(cfg Config) *TaskQueue {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	return &TaskQueue{
		tasks: make(map[string]*models.Task),
		cfg:   cfg,
		now:   time.Now,
	}
}

// SetClock replaces the queue's clock. Tests use this to drive eligibility
// and timeouts deterministically.
func (q *TaskQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Submit validates the spec, assigns an ID, and inserts the task as
// pending. It never blocks. Returns the new task ID.
func (q *TaskQueue) Submit(spec models.TaskSpec) (string, error) {
	if spec.Name == "" {
		return "", &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !spec.Priority.Valid() {
		return "", &models.ValidationError{Field: "priority", Reason: "unknown priority"}
	}
	if spec.MaxRetries < 0 {
		return "", &models.ValidationError{Field: "max_retries", Reason: "must be >= 0"}
	}
	if spec.PreferredRole != "" && !spec.PreferredRole.Valid() {
		return "", &models.ValidationError{Field: "preferred_role", Reason: "unknown role type"}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	task := &models.Task{
		ID:                       "task-" + uuid.New().String()[:8],
		Name:                     spec.Name,
		Description:              spec.Description,
		RequiredCapabilities:     append([]string(nil), spec.RequiredCapabilities...),
		Priority:                 spec.Priority,
		PreferredRole:            spec.PreferredRole,
		RequiresBossLevel:        spec.RequiresBossLevel,
		RequiresHumanInteraction: spec.RequiresHumanInteraction,
		RequiredPermissions:      append([]string(nil), spec.RequiredPermissions...),
		Status:                   models.TaskStatusPending,
		MaxRetries:               spec.MaxRetries,
		Timeout:                  spec.Timeout,
		CreatedAt:                now,
		EligibleAt:               now,
		Payload:                  spec.Payload,
	}
	q.tasks[task.ID] = task
	return task.ID, nil
}

// NextEligible returns a copy of the highest-priority pending task matching
// the filter, breaking ties by earliest creation time. It does not mutate
// state: callers must separately mark the task assigned, so a failed
// assignment attempt does not cost the task its queue position.
// Returns nil when nothing is eligible.
func (q *TaskQueue) NextEligible(f Filter) *models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := q.now()
	var best *models.Task
	var bestPri models.TaskPriority
	for _, t := range q.tasks {
		if !q.eligibleLocked(t, f, now) {
			continue
		}
		pri := q.effectivePriorityLocked(t, now)
		if best == nil || pri > bestPri ||
			(pri == bestPri && t.CreatedAt.Before(best.CreatedAt)) ||
			(pri == bestPri && t.CreatedAt.Equal(best.CreatedAt) && t.ID < best.ID) {
			best = t
			bestPri = pri
		}
	}
	if best == nil {
		return nil
	}
	c := *best
	return &c
}

// eligibleLocked reports whether the task can be handed out right now.
func (q *TaskQueue) eligibleLocked(t *models.Task, f Filter, now time.Time) bool {
	if t.Status != models.TaskStatusPending || t.AssignedAgentID != "" {
		return false
	}
	if t.EligibleAt.After(now) {
		return false
	}
	if len(f.Capabilities) > 0 {
		have := make(map[string]bool, len(f.Capabilities))
		for _, c := range f.Capabilities {
			have[c] = true
		}
		for _, c := range t.RequiredCapabilities {
			if !have[c] {
				return false
			}
		}
	}
	if f.Role != "" && t.PreferredRole != "" && t.PreferredRole != f.Role {
		return false
	}
	return true
}

// effectivePriorityLocked applies priority aging: a pending task gains one
// band per elapsed aging threshold, capped at urgent. This is the
// starvation guard for low-priority work under sustained high-priority load.
func (q *TaskQueue) effectivePriorityLocked(t *models.Task, now time.Time) models.TaskPriority {
	if q.cfg.AgingThreshold <= 0 {
		return t.Priority
	}
	aged := t.Priority + models.TaskPriority(now.Sub(t.CreatedAt)/q.cfg.AgingThreshold)
	if aged > models.PriorityUrgent {
		return models.PriorityUrgent
	}
	return aged
}

// MarkAssigned records the agent about to run the task. The task must be
// pending and unassigned; this is the point where at-most-one assignment
// is enforced.
func (q *TaskQueue) MarkAssigned(taskID, agentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return &models.ValidationError{Field: "task_id", Reason: "unknown task " + taskID}
	}
	if t.Status != models.TaskStatusPending {
		return &models.ValidationError{Field: "status", Reason: "task " + taskID + " is not pending"}
	}
	if t.AssignedAgentID != "" {
		return &models.ValidationError{Field: "assigned_agent_id", Reason: "task " + taskID + " already assigned"}
	}
	t.AssignedAgentID = agentID
	t.RoutingFailures = 0
	return nil
}

// MarkRunning transitions an assigned task to running and stamps the
// start of the execution attempt.
func (q *TaskQueue) MarkRunning(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return &models.ValidationError{Field: "task_id", Reason: "unknown task " + taskID}
	}
	if t.Status != models.TaskStatusPending || t.AssignedAgentID == "" {
		return &models.ValidationError{Field: "status", Reason: "task " + taskID + " is not assigned"}
	}
	now := q.now()
	t.Status = models.TaskStatusRunning
	t.StartedAt = &now
	return nil
}

// MarkCompleted records a successful result and transitions the task to
// completed. Only the agent currently holding the task may complete it;
// a report from a superseded attempt is rejected so the timeout sweep's
// requeue stands. A second call from the same agent on an already
// completed task is a no-op.
func (q *TaskQueue) MarkCompleted(taskID, agentID string, result any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return &models.ValidationError{Field: "task_id", Reason: "unknown task " + taskID}
	}
	if t.Status == models.TaskStatusCompleted && t.AssignedAgentID == agentID {
		return nil
	}
	if t.Status != models.TaskStatusRunning {
		return &models.ValidationError{Field: "status", Reason: "task " + taskID + " is not running"}
	}
	if t.AssignedAgentID != agentID {
		return &models.ValidationError{Field: "agent_id", Reason: "task " + taskID + " is not held by agent " + agentID}
	}
	now := q.now()
	t.Status = models.TaskStatusCompleted
	t.Result = result
	t.CompletedAt = &now
	t.ErrorMessage = ""
	return nil
}

// MarkFailed records a failed execution attempt by the agent holding the
// task. While the retry budget lasts, the task returns to pending with an
// exponential backoff delay before it becomes eligible again; otherwise
// the failure is terminal. Reports from superseded attempts are rejected.
func (q *TaskQueue) MarkFailed(taskID, agentID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return &models.ValidationError{Field: "task_id", Reason: "unknown task " + taskID}
	}
	if t.Status != models.TaskStatusRunning {
		return &models.ValidationError{Field: "status", Reason: "task " + taskID + " is not running"}
	}
	if t.AssignedAgentID != agentID {
		return &models.ValidationError{Field: "agent_id", Reason: "task " + taskID + " is not held by agent " + agentID}
	}
	q.failLocked(t, errMsg)
	return nil
}

// failLocked applies the retry-or-terminal-failure transition. Caller must
// hold q.mu.
func (q *TaskQueue) failLocked(t *models.Task, errMsg string) {
	now := q.now()
	t.RetryCount++
	t.ErrorMessage = errMsg
	t.AssignedAgentID = ""
	t.StartedAt = nil
	if t.RetryCount < t.MaxRetries {
		delay := q.cfg.BackoffBase << uint(t.RetryCount)
		if delay > q.cfg.BackoffCap || delay <= 0 {
			delay = q.cfg.BackoffCap
		}
		t.Status = models.TaskStatusPending
		t.EligibleAt = now.Add(delay)
		return
	}
	t.Status = models.TaskStatusFailed
	t.CompletedAt = &now
}

// MarkCancelled cancels the task. Pending and running are the only states
// from which cancellation is reachable; cancelling a running task records
// intent and relies on the execution contract observing its context.
func (q *TaskQueue) MarkCancelled(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return &models.ValidationError{Field: "task_id", Reason: "unknown task " + taskID}
	}
	if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusRunning {
		return &models.ValidationError{Field: "status", Reason: "task " + taskID + " is " + string(t.Status)}
	}
	now := q.now()
	t.Status = models.TaskStatusCancelled
	t.CompletedAt = &now
	return nil
}

// TimedOut identifies a running task reclaimed by a timeout sweep along
// with the agent whose slot must be freed.
type TimedOut struct {
	TaskID  string
	AgentID string
}

// TimeoutSweep fails every running task whose execution attempt exceeded
// its timeout, following the same retry path as MarkFailed. It returns
// the affected task/agent pairs so callers can free the agents' slots.
func (q *TaskQueue) TimeoutSweep(now time.Time) []TimedOut {
	q.mu.Lock()
	defer q.mu.Unlock()

	var swept []TimedOut
	for _, t := range q.tasks {
		if t.Status != models.TaskStatusRunning || t.Timeout <= 0 || t.StartedAt == nil {
			continue
		}
		if t.StartedAt.Add(t.Timeout).After(now) {
			continue
		}
		swept = append(swept, TimedOut{TaskID: t.ID, AgentID: t.AssignedAgentID})
		q.failLocked(t, "execution timed out after "+t.Timeout.String())
	}
	return swept
}

// RecordRoutingFailure notes that no eligible agent was found for the task
// on this tick. Routing failures never touch the retry budget, but when a
// routing bound is configured the task is abandoned after that many
// consecutive misses. Returns true if the task was abandoned.
func (q *TaskQueue) RecordRoutingFailure(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok || t.Status != models.TaskStatusPending {
		return false
	}
	t.RoutingFailures++
	if q.cfg.RoutingMaxAttempts > 0 && t.RoutingFailures >= q.cfg.RoutingMaxAttempts {
		now := q.now()
		t.Status = models.TaskStatusFailed
		t.ErrorMessage = "no eligible agent found after repeated routing attempts"
		t.CompletedAt = &now
		return true
	}
	return false
}

// Get returns a copy of the task, if present.
func (q *TaskQueue) Get(taskID string) (models.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return models.Task{}, false
	}
	return *t, true
}

// Counts summarizes tasks by status.
type Counts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Workload returns pending plus running.
func (c Counts) Workload() int {
	return c.Pending + c.Running
}

// SuccessRate returns completed/(completed+failed), or zero when nothing
// has finished yet.
func (c Counts) SuccessRate() float64 {
	done := c.Completed + c.Failed
	if done == 0 {
		return 0
	}
	return float64(c.Completed) / float64(done)
}

// Counts tallies tasks by status.
func (q *TaskQueue) Counts() Counts {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var c Counts
	for _, t := range q.tasks {
		switch t.Status {
		case models.TaskStatusPending:
			c.Pending++
		case models.TaskStatusRunning:
			c.Running++
		case models.TaskStatusCompleted:
			c.Completed++
		case models.TaskStatusFailed:
			c.Failed++
		case models.TaskStatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// SnapshotFilter narrows Snapshot output.
type SnapshotFilter struct {
	// Status, when set, restricts to tasks in that state.
	Status models.TaskStatus
	// AgentID, when set, restricts to tasks assigned to that agent.
	AgentID string
}

// Snapshot returns copies of tasks matching the filter, ordered by
// creation time then ID for stable output.
func (q *TaskQueue) Snapshot(f SnapshotFilter) []models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]models.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AgentID != "" && t.AssignedAgentID != f.AgentID {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore reinserts a persisted task record, preserving its ID and
// timestamps. Used when reloading state from the store.
func (q *TaskQueue) Restore(t models.Task) error {
	if t.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !t.Status.Valid() {
		return &models.ValidationError{Field: "status", Reason: "unknown status " + string(t.Status)}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	c := t
	q.tasks[t.ID] = &c
	return nil
}
