package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overseerhq/overseer/pkg/models"
)

// Config contains tunables for the agent registry.
type Config struct {
	// MaxAgents is the hard system cap on total agents. Creation beyond it
	// fails with a CapacityError.
	MaxAgents int
	// DefaultMaxConcurrent is the per-agent concurrency limit applied when
	// a creation call does not override it.
	DefaultMaxConcurrent int
	// OutcomeWeight is the EMA weight applied to the newest outcome when
	// updating success rate and response time.
	OutcomeWeight float64
	// ResponseBaseline is the reference duration against which response
	// times are scored. Faster than baseline scores 1.0.
	ResponseBaseline time.Duration
}

// DefaultConfig returns the default registry tunables.
func DefaultConfig() Config {
	return Config{
		MaxAgents:            50,
		DefaultMaxConcurrent: 3,
		OutcomeWeight:        0.2,
		ResponseBaseline:     30 * time.Second,
	}
}

// AgentRegistry is the exclusive owner of agent records. Reads return
// copies; all mutations are serialized through the registry's lock.
type AgentRegistry struct {
	// agents maps agent IDs to agent records.
	agents map[string]*models.Agent
	// caps indexes agents by advertised capability.
	caps *CapabilityIndex
	cfg  Config
	// now is the injected clock, replaceable in tests.
	now func() time.Time
	// mu protects agents.
	mu sync.RWMutex
}

// New creates an AgentRegistry with the given tunables.
func New(cfg Config) *AgentRegistry {
	def := DefaultConfig()
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = def.MaxAgents
	}
	if cfg.DefaultMaxConcurrent <= 0 {
		cfg.DefaultMaxConcurrent = def.DefaultMaxConcurrent
	}
	if cfg.OutcomeWeight <= 0 || cfg.OutcomeWeight > 1 {
		cfg.OutcomeWeight = def.OutcomeWeight
	}
	if cfg.ResponseBaseline <= 0 {
		cfg.ResponseBaseline = def.ResponseBaseline
	}
	return &AgentRegistry{
		agents: make(map[string]*models.Agent),
		caps:   NewCapabilityIndex(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock replaces the registry's clock for deterministic tests.
func (r *AgentRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// CreateStandalone registers an autonomous agent. The boss carries the
// reserved well-known ID and is singular; sub-agents must reference an
// existing boss as parent. An empty parentID defaults to the current boss.
func (r *AgentRegistry) CreateStandalone(name string, capabilities []string, level models.HierarchyLevel, parentID string) (models.Agent, error) {
	if name == "" {
		return models.Agent{}, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.capacityLocked(1); err != nil {
		return models.Agent{}, err
	}

	now := r.now()
	a := &models.Agent{
		Name:               name,
		RoleType:           models.RoleStandalone,
		HierarchyLevel:     level,
		Capabilities:       append([]string(nil), capabilities...),
		MaxConcurrentTasks: r.cfg.DefaultMaxConcurrent,
		Status:             models.AgentStatusIdle,
		PerformanceScore:   0.8,
		SuccessRate:        1.0,
		CreatedAt:          now,
		LastActive:         now,
	}

	switch level {
	case models.LevelBoss:
		if r.bossLocked() != nil {
			return models.Agent{}, &models.ValidationError{Field: "hierarchy_level", Reason: "a boss agent already exists"}
		}
		a.ID = models.BossAgentID
		a.Status = models.AgentStatusActive
		a.PerformanceScore = 1.0
	case models.LevelSubAgent:
		boss := r.bossLocked()
		if parentID == "" {
			if boss == nil {
				return models.Agent{}, &models.ValidationError{Field: "parent_agent_id", Reason: "no boss agent to parent under"}
			}
			parentID = boss.ID
		}
		parent, ok := r.agents[parentID]
		if !ok || !parent.IsBoss() {
			return models.Agent{}, &models.ValidationError{Field: "parent_agent_id", Reason: "parent " + parentID + " is not an existing boss agent"}
		}
		a.ID = "agent-" + uuid.New().String()[:8]
		a.ParentAgentID = parentID
	default:
		return models.Agent{}, &models.ValidationError{Field: "hierarchy_level", Reason: "unknown hierarchy level"}
	}

	r.agents[a.ID] = a
	r.caps.Add(a.ID, a.Capabilities)
	return *a, nil
}

// CreateHumanPaired registers an agent collaborating with a specific human.
// The pairing record is mandatory.
func (r *AgentRegistry) CreateHumanPaired(name string, pairing models.HumanPairing, capabilities []string) (models.Agent, error) {
	if name == "" {
		return models.Agent{}, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if pairing.HumanID == "" {
		return models.Agent{}, &models.ValidationError{Field: "pairing", Reason: "human_id must not be empty"}
	}
	if pairing.ContactChannel == "" {
		return models.Agent{}, &models.ValidationError{Field: "pairing", Reason: "contact_channel must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.capacityLocked(1); err != nil {
		return models.Agent{}, err
	}

	now := r.now()
	p := pairing
	a := &models.Agent{
		ID:                 "agent-" + uuid.New().String()[:8],
		Name:               name,
		RoleType:           models.RoleHumanPaired,
		Pairing:            &p,
		Capabilities:       append([]string(nil), capabilities...),
		MaxConcurrentTasks: r.cfg.DefaultMaxConcurrent,
		Status:             models.AgentStatusIdle,
		PerformanceScore:   0.8,
		SuccessRate:        1.0,
		CreatedAt:          now,
		LastActive:         now,
	}
	r.agents[a.ID] = a
	r.caps.Add(a.ID, a.Capabilities)
	return *a, nil
}

// CreateHumanShadow registers an agent acting on a human's behalf within a
// fixed permission set. Identity and a non-empty permission set are
// mandatory.
func (r *AgentRegistry) CreateHumanShadow(name, humanID, humanName string, permissions, capabilities []string) (models.Agent, error) {
	if name == "" {
		return models.Agent{}, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if humanID == "" {
		return models.Agent{}, &models.ValidationError{Field: "represented_human_id", Reason: "must not be empty"}
	}
	if len(permissions) == 0 {
		return models.Agent{}, &models.ValidationError{Field: "shadow_permissions", Reason: "must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.capacityLocked(1); err != nil {
		return models.Agent{}, err
	}

	now := r.now()
	a := &models.Agent{
		ID:                   "agent-" + uuid.New().String()[:8],
		Name:                 name,
		RoleType:             models.RoleHumanShadow,
		RepresentedHumanID:   humanID,
		RepresentedHumanName: humanName,
		ShadowPermissions:    append([]string(nil), permissions...),
		Capabilities:         append([]string(nil), capabilities...),
		MaxConcurrentTasks:   r.cfg.DefaultMaxConcurrent,
		Status:               models.AgentStatusIdle,
		PerformanceScore:     0.8,
		SuccessRate:          1.0,
		CreatedAt:            now,
		LastActive:           now,
	}
	r.agents[a.ID] = a
	r.caps.Add(a.ID, a.Capabilities)
	return *a, nil
}

// capacityLocked enforces the hard agent cap. Caller must hold r.mu.
func (r *AgentRegistry) capacityLocked(adding int) error {
	if len(r.agents)+adding > r.cfg.MaxAgents {
		return &models.CapacityError{Requested: len(r.agents) + adding, Cap: r.cfg.MaxAgents}
	}
	return nil
}

// bossLocked returns the boss agent, or nil. Caller must hold r.mu.
func (r *AgentRegistry) bossLocked() *models.Agent {
	a, ok := r.agents[models.BossAgentID]
	if !ok || !a.IsBoss() {
		return nil
	}
	return a
}

// Get returns a copy of the agent, if present.
func (r *AgentRegistry) Get(agentID string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return models.Agent{}, false
	}
	return copyAgent(a), true
}

// All returns copies of every agent, ordered by ID for stable output.
func (r *AgentRegistry) All() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, copyAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered agents.
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// FindCandidates returns copies of agents eligible for the task: spare
// capacity, capability superset, healthy status, and role compatibility.
// Capability filtering goes through the inverted index, so tasks with
// requirements only touch the agents that advertise them. Boss-level
// requirements restrict to the boss; human-interaction requirements
// restrict to paired or shadow agents; permission requirements gate
// shadow candidates on their permission set.
func (r *AgentRegistry) FindCandidates(task models.Task) []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pool []*models.Agent
	if len(task.RequiredCapabilities) > 0 {
		for _, id := range r.caps.AgentsForAll(task.RequiredCapabilities) {
			if a, ok := r.agents[id]; ok {
				pool = append(pool, a)
			}
		}
	} else {
		for _, a := range r.agents {
			pool = append(pool, a)
		}
	}

	var out []models.Agent
	for _, a := range pool {
		if a.Status == models.AgentStatusError {
			continue
		}
		if a.AtCapacity() {
			continue
		}
		if task.RequiresBossLevel && !a.IsBoss() {
			continue
		}
		if task.RequiresHumanInteraction &&
			a.RoleType != models.RoleHumanPaired && a.RoleType != models.RoleHumanShadow {
			continue
		}
		if a.RoleType == models.RoleHumanShadow && len(task.RequiredPermissions) > 0 &&
			!a.HasPermissions(task.RequiredPermissions) {
			continue
		}
		out = append(out, copyAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReserveSlot atomically claims a concurrency slot on the agent for the
// task. It fails if the agent is at capacity or already holds the task,
// guaranteeing max_concurrent_tasks is never exceeded under concurrent
// assignment attempts.
func (r *AgentRegistry) ReserveSlot(agentID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return &models.ValidationError{Field: "agent_id", Reason: "unknown agent " + agentID}
	}
	if a.AtCapacity() {
		return &models.ValidationError{Field: "current_task_ids", Reason: "agent " + agentID + " is at capacity"}
	}
	if a.HasTask(taskID) {
		return &models.ValidationError{Field: "current_task_ids", Reason: "agent " + agentID + " already holds task " + taskID}
	}
	a.CurrentTaskIDs = append(a.CurrentTaskIDs, taskID)
	a.LastActive = r.now()
	r.refreshStatusLocked(a)
	return nil
}

// ReleaseSlot frees the concurrency slot held for the task. Safe to call
// when the slot is already free.
func (r *AgentRegistry) ReleaseSlot(agentID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	for i, id := range a.CurrentTaskIDs {
		if id == taskID {
			a.CurrentTaskIDs = append(a.CurrentTaskIDs[:i], a.CurrentTaskIDs[i+1:]...)
			break
		}
	}
	a.LastActive = r.now()
	r.refreshStatusLocked(a)
}

// refreshStatusLocked derives idle/active/busy from current load. Error
// status is sticky and only cleared explicitly. Caller must hold r.mu.
func (r *AgentRegistry) refreshStatusLocked(a *models.Agent) {
	if a.Status == models.AgentStatusError {
		return
	}
	switch {
	case len(a.CurrentTaskIDs) == 0:
		a.Status = models.AgentStatusIdle
	case a.AtCapacity():
		a.Status = models.AgentStatusBusy
	default:
		a.Status = models.AgentStatusActive
	}
}

// SetError marks the agent unhealthy, excluding it from assignment until
// ClearError is called.
func (r *AgentRegistry) SetError(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.Status = models.AgentStatusError
	}
}

// ClearError returns an unhealthy agent to rotation.
func (r *AgentRegistry) ClearError(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok && a.Status == models.AgentStatusError {
		a.Status = models.AgentStatusIdle
		r.refreshStatusLocked(a)
	}
}

// RecordOutcome folds an execution outcome into the agent's rolling
// counters: EMA success rate, EMA response time, and the weighted
// performance score.
func (r *AgentRegistry) RecordOutcome(agentID string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	w := r.cfg.OutcomeWeight
	outcome := 0.0
	if success {
		outcome = 1.0
		a.TotalCompleted++
	}
	a.SuccessRate = (1-w)*a.SuccessRate + w*outcome
	if a.AverageResponseTime == 0 {
		a.AverageResponseTime = duration
	} else {
		a.AverageResponseTime = time.Duration((1-w)*float64(a.AverageResponseTime) + w*float64(duration))
	}
	a.PerformanceScore = r.performanceLocked(a)
	a.LastActive = r.now()
}

// performanceLocked computes the weighted performance score in [0,1]:
// success rate, response time relative to the baseline, and current load.
func (r *AgentRegistry) performanceLocked(a *models.Agent) float64 {
	responseFactor := 1.0
	if a.AverageResponseTime > 0 {
		responseFactor = float64(r.cfg.ResponseBaseline) / float64(a.AverageResponseTime)
		if responseFactor > 1 {
			responseFactor = 1
		}
	}
	score := 0.5*a.SuccessRate + 0.3*responseFactor + 0.2*(1-a.LoadRatio())
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ScaleTemplate supplies names and role-specific fields for agents created
// by Scale. A nil entry means the role can only be scaled down: the
// registry will not fabricate pairing or shadow records on its own.
type ScaleTemplate struct {
	// Standalone names a new sub-agent and its capabilities.
	Standalone func(index int) (name string, capabilities []string)
	// Paired supplies a new human-paired agent.
	Paired func(index int) (name string, pairing models.HumanPairing, capabilities []string)
	// Shadow supplies a new human-shadow agent.
	Shadow func(index int) (name, humanID, humanName string, permissions, capabilities []string)
}

// Scale adjusts agent counts toward the per-role targets. A negative
// target leaves that role untouched. Scaling up creates agents from the
// template; scaling down removes idle agents, least recently active first,
// never removing the boss or an agent with work in flight.
func (r *AgentRegistry) Scale(targetStandalone, targetPaired, targetShadow int, tmpl ScaleTemplate) error {
	if targetStandalone >= 0 {
		if err := r.scaleStandalone(targetStandalone, tmpl.Standalone); err != nil {
			return err
		}
	}
	if targetPaired >= 0 {
		if err := r.scalePaired(targetPaired, tmpl.Paired); err != nil {
			return err
		}
	}
	if targetShadow >= 0 {
		if err := r.scaleShadow(targetShadow, tmpl.Shadow); err != nil {
			return err
		}
	}
	return nil
}

// scaleStandalone counts the boss toward the standalone target.
func (r *AgentRegistry) scaleStandalone(target int, newAgent func(int) (string, []string)) error {
	current := len(r.byRole(models.RoleStandalone))
	for i := current; i < target; i++ {
		if newAgent == nil {
			return &models.ValidationError{Field: "template", Reason: "no standalone template supplied"}
		}
		name, caps := newAgent(i)
		if _, err := r.CreateStandalone(name, caps, models.LevelSubAgent, ""); err != nil {
			return err
		}
	}
	if current > target {
		r.removeIdleDown(models.RoleStandalone, current-target)
	}
	return nil
}

func (r *AgentRegistry) scalePaired(target int, newAgent func(int) (string, models.HumanPairing, []string)) error {
	current := len(r.byRole(models.RoleHumanPaired))
	for i := current; i < target; i++ {
		if newAgent == nil {
			return &models.ValidationError{Field: "template", Reason: "no paired template supplied"}
		}
		name, pairing, caps := newAgent(i)
		if _, err := r.CreateHumanPaired(name, pairing, caps); err != nil {
			return err
		}
	}
	if current > target {
		r.removeIdleDown(models.RoleHumanPaired, current-target)
	}
	return nil
}

func (r *AgentRegistry) scaleShadow(target int, newAgent func(int) (string, string, string, []string, []string)) error {
	current := len(r.byRole(models.RoleHumanShadow))
	for i := current; i < target; i++ {
		if newAgent == nil {
			return &models.ValidationError{Field: "template", Reason: "no shadow template supplied"}
		}
		name, humanID, humanName, perms, caps := newAgent(i)
		if _, err := r.CreateHumanShadow(name, humanID, humanName, perms, caps); err != nil {
			return err
		}
	}
	if current > target {
		r.removeIdleDown(models.RoleHumanShadow, current-target)
	}
	return nil
}

// byRole returns the IDs of agents with the given role.
func (r *AgentRegistry) byRole(role models.AgentRoleType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, a := range r.agents {
		if a.RoleType == role {
			ids = append(ids, id)
		}
	}
	return ids
}

// removeIdleDown removes up to n idle agents of the role, least recently
// active first. The boss and agents with tasks in flight are never removed.
func (r *AgentRegistry) removeIdleDown(role models.AgentRoleType, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []*models.Agent
	for _, a := range r.agents {
		if a.RoleType != role || a.IsBoss() || len(a.CurrentTaskIDs) > 0 {
			continue
		}
		idle = append(idle, a)
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastActive.Before(idle[j].LastActive) })
	if n > len(idle) {
		n = len(idle)
	}
	for _, a := range idle[:n] {
		delete(r.agents, a.ID)
		r.caps.Remove(a.ID)
	}
}

// RemoveIdle removes every non-boss agent with no active tasks whose
// last activity exceeds the timeout. Returns the number removed.
func (r *AgentRegistry) RemoveIdle(idleTimeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleTimeout)
	removed := 0
	for id, a := range r.agents {
		if a.IsBoss() || len(a.CurrentTaskIDs) > 0 {
			continue
		}
		if a.LastActive.After(cutoff) {
			continue
		}
		delete(r.agents, id)
		r.caps.Remove(id)
		removed++
	}
	return removed
}

// Stats is the aggregate view of the registry for observers and the
// scaling policy.
type Stats struct {
	Total              int                          `json:"total"`
	ByRole             map[models.AgentRoleType]int `json:"by_role"`
	ByStatus           map[models.AgentStatus]int   `json:"by_status"`
	ActiveAgents       int                          `json:"active_agents"`
	AveragePerformance float64                      `json:"average_performance"`
}

// Stats tallies agents by role and status.
func (r *AgentRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		ByRole:   make(map[models.AgentRoleType]int),
		ByStatus: make(map[models.AgentStatus]int),
	}
	var perf float64
	for _, a := range r.agents {
		s.Total++
		s.ByRole[a.RoleType]++
		s.ByStatus[a.Status]++
		if len(a.CurrentTaskIDs) > 0 {
			s.ActiveAgents++
		}
		perf += a.PerformanceScore
	}
	if s.Total > 0 {
		s.AveragePerformance = perf / float64(s.Total)
	}
	return s
}

// HierarchyView is the boss plus its tree of sub-agents.
type HierarchyView struct {
	Boss      *models.Agent  `json:"boss,omitempty"`
	SubAgents []models.Agent `json:"sub_agents"`
}

// Hierarchy returns the standalone delegation tree. Sub-agents are ordered
// by ID.
func (r *AgentRegistry) Hierarchy() HierarchyView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var view HierarchyView
	if boss := r.bossLocked(); boss != nil {
		b := copyAgent(boss)
		view.Boss = &b
	}
	for _, a := range r.agents {
		if a.RoleType == models.RoleStandalone && a.HierarchyLevel == models.LevelSubAgent {
			view.SubAgents = append(view.SubAgents, copyAgent(a))
		}
	}
	sort.Slice(view.SubAgents, func(i, j int) bool { return view.SubAgents[i].ID < view.SubAgents[j].ID })
	return view
}

// CheckInvariants verifies the structural invariants of the record set:
// exactly one boss under the reserved ID, valid parent references, pairing
// and shadow records present for their roles. Returns the violations found.
func (r *AgentRegistry) CheckInvariants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var violations []string
	bosses := 0
	for id, a := range r.agents {
		if a.IsBoss() {
			bosses++
			if id != models.BossAgentID {
				violations = append(violations, "boss agent "+id+" does not carry the reserved id")
			}
		}
		switch a.RoleType {
		case models.RoleStandalone:
			if a.HierarchyLevel == models.LevelSubAgent {
				parent, ok := r.agents[a.ParentAgentID]
				if !ok || !parent.IsBoss() {
					violations = append(violations, "sub-agent "+id+" has no valid boss parent")
				}
			}
		case models.RoleHumanPaired:
			if a.Pairing == nil || a.Pairing.HumanID == "" {
				violations = append(violations, "paired agent "+id+" has no pairing record")
			}
		case models.RoleHumanShadow:
			if a.RepresentedHumanID == "" || len(a.ShadowPermissions) == 0 {
				violations = append(violations, "shadow agent "+id+" lacks identity or permissions")
			}
		}
		if len(a.CurrentTaskIDs) > a.MaxConcurrentTasks {
			violations = append(violations, "agent "+id+" exceeds max_concurrent_tasks")
		}
	}
	if bosses > 1 {
		violations = append(violations, "multiple boss agents detected")
	}
	return violations
}

// Restore reinserts a persisted agent record, preserving its ID and
// counters. Used when reloading state from the store.
func (r *AgentRegistry) Restore(a models.Agent) error {
	if a.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !a.RoleType.Valid() {
		return &models.ValidationError{Field: "role_type", Reason: "unknown role type"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := copyAgent(&a)
	r.agents[a.ID] = &c
	r.caps.Add(a.ID, a.Capabilities)
	return nil
}

// copyAgent deep-copies the slices and pairing record so callers never
// share memory with the registry's record.
func copyAgent(a *models.Agent) models.Agent {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	c.CurrentTaskIDs = append([]string(nil), a.CurrentTaskIDs...)
	c.ShadowPermissions = append([]string(nil), a.ShadowPermissions...)
	if a.Pairing != nil {
		p := *a.Pairing
		c.Pairing = &p
	}
	return c
}
