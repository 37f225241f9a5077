// Package system wires the task queue, agent registry, assignment engine,
// and supervisor into one runnable orchestrator, with optional persistence
// and a reasoning backend.
package system

import (
	"context"
	"fmt"
	"time"

	"github.com/overseerhq/overseer/internal/assign"
	"github.com/overseerhq/overseer/internal/channel"
	"github.com/overseerhq/overseer/internal/config"
	"github.com/overseerhq/overseer/internal/queue"
	"github.com/overseerhq/overseer/internal/reason"
	"github.com/overseerhq/overseer/internal/registry"
	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/internal/supervisor"
	"github.com/overseerhq/overseer/pkg/models"
)

// System is the assembled orchestrator.
type System struct {
	cfg *config.Config

	queue      *queue.TaskQueue
	registry   *registry.AgentRegistry
	engine     *assign.Engine
	supervisor *supervisor.Supervisor

	channel  channel.Channel
	reasoner reason.Reasoner
	db       *store.DB
	watcher  *supervisor.ControlWatcher
	logger   *supervisor.DebugLogger

	scaling            *ScalingPolicy
	exec               *executor
	overrideDispatcher supervisor.Dispatcher
}

// Option configures a System.
type Option func(*System)

// WithReasoner sets the reasoning backend for planning and standalone
// execution.
func WithReasoner(r reason.Reasoner) Option {
	return func(s *System) { s.reasoner = r }
}

// WithChannel sets the human communication channel.
func WithChannel(c channel.Channel) Option {
	return func(s *System) { s.channel = c }
}

// WithStore sets an opened database for persistence.
func WithStore(db *store.DB) Option {
	return func(s *System) { s.db = db }
}

// WithDispatcher replaces the built-in executor.
func WithDispatcher(d supervisor.Dispatcher) Option {
	return func(s *System) { s.overrideDispatcher = d }
}

// New assembles a System from configuration.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	s := &System{cfg: cfg}

	s.queue = queue.New(queue.Config{
		BackoffBase:        cfg.Queue.BackoffBase,
		BackoffCap:         cfg.Queue.BackoffCap,
		AgingThreshold:     cfg.Queue.AgingThreshold,
		RoutingMaxAttempts: cfg.Queue.RoutingMaxAttempts,
	})
	s.registry = registry.New(registry.Config{
		MaxAgents:            cfg.Registry.MaxAgents,
		DefaultMaxConcurrent: cfg.Registry.DefaultMaxConcurrent,
	})
	s.engine = assign.New(s.queue, s.registry, assign.DefaultWeights())
	s.channel = channel.NewInProc()

	for _, opt := range opts {
		opt(s)
	}

	logger, err := supervisor.NewDebugLogger(cfg.Logging.DebugLog)
	if err != nil {
		return nil, fmt.Errorf("debug logger: %w", err)
	}
	s.logger = logger

	if cfg.Supervisor.ControlDir != "" {
		watcher, err := supervisor.NewControlWatcher(cfg.Supervisor.ControlDir)
		if err != nil {
			return nil, fmt.Errorf("control watcher: %w", err)
		}
		s.watcher = watcher
	}

	s.scaling = NewScalingPolicy(s.registry, s.queue, config.ScalingConfig{})

	dispatcher := s.overrideDispatcher
	if dispatcher == nil {
		s.exec = newExecutor(s.engine, s.reasoner, s.channel)
		dispatcher = s.exec
	}

	supOpts := []supervisor.Option{
		supervisor.WithDispatcher(dispatcher),
		supervisor.WithReflectionHook(s.scaling.Reflect),
		supervisor.WithLogger(s.logger),
	}
	if s.watcher != nil {
		supOpts = append(supOpts, supervisor.WithControlWatcher(s.watcher))
	}
	if s.reasoner != nil {
		supOpts = append(supOpts, supervisor.WithPlanner(&reasonerPlanner{r: s.reasoner}))
	}

	s.supervisor = supervisor.New(supervisor.Config{
		TickInterval:      cfg.Supervisor.TickInterval,
		AssignBudget:      cfg.Supervisor.AssignBudget,
		WorkloadThreshold: cfg.Supervisor.WorkloadThreshold,
		ErrorThreshold:    cfg.Supervisor.ErrorThreshold,
		IdleAgentTimeout:  cfg.Supervisor.IdleAgentTimeout,
	}, s.queue, s.registry, s.engine, supOpts...)

	if s.db != nil {
		if err := s.restore(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// restore reloads persisted state. Repairs made while revalidating the
// snapshot are logged.
func (s *System) restore() error {
	snap, err := s.db.Load()
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	for _, a := range snap.Agents {
		if err := s.registry.Restore(a); err != nil {
			return fmt.Errorf("restore agent %s: %w", a.ID, err)
		}
	}
	for _, t := range snap.Tasks {
		if err := s.queue.Restore(t); err != nil {
			return fmt.Errorf("restore task %s: %w", t.ID, err)
		}
	}
	for _, repair := range snap.Repairs {
		s.logger.Log("restore repair: %s", repair)
	}
	return nil
}

// SetClock replaces every component clock, for deterministic tests.
func (s *System) SetClock(now func() time.Time) {
	s.queue.SetClock(now)
	s.registry.SetClock(now)
	s.supervisor.SetClock(now)
}

// ApplyRoster registers the roster's agents and adopts its scaling
// targets. A boss is created first if none exists.
func (s *System) ApplyRoster(r *config.Roster) error {
	if _, ok := s.registry.Get(models.BossAgentID); !ok {
		if _, err := s.EnsureBoss(); err != nil {
			return err
		}
	}
	for _, e := range r.Agents {
		var err error
		switch models.AgentRoleType(e.Role) {
		case models.RoleStandalone:
			_, err = s.registry.CreateStandalone(e.Name, e.Capabilities, models.LevelSubAgent, "")
		case models.RoleHumanPaired:
			_, err = s.registry.CreateHumanPaired(e.Name, models.HumanPairing{
				HumanID:        e.HumanID,
				HumanName:      e.HumanName,
				ContactChannel: e.ContactChannel,
			}, e.Capabilities)
		case models.RoleHumanShadow:
			_, err = s.registry.CreateHumanShadow(e.Name, e.HumanID, e.HumanName, e.Permissions, e.Capabilities)
		}
		if err != nil {
			return fmt.Errorf("roster agent %q: %w", e.Name, err)
		}
	}
	s.scaling.SetTargets(r.Scaling)
	return nil
}

// EnsureBoss creates the boss agent if it does not exist yet.
func (s *System) EnsureBoss() (models.Agent, error) {
	if boss, ok := s.registry.Get(models.BossAgentID); ok {
		return boss, nil
	}
	return s.registry.CreateStandalone("boss", []string{"planning", "delegation"}, models.LevelBoss, "")
}

// Submit queues a task and persists it.
func (s *System) Submit(spec models.TaskSpec) (string, error) {
	id, err := s.queue.Submit(spec)
	if err != nil {
		return "", err
	}
	s.persistTask(id)
	return id, nil
}

// Cancel cancels a pending or running task, releasing any held slot.
func (s *System) Cancel(taskID string) error {
	t, ok := s.queue.Get(taskID)
	if !ok {
		return &models.ValidationError{Field: "task_id", Reason: "unknown task " + taskID}
	}
	if err := s.queue.MarkCancelled(taskID); err != nil {
		return err
	}
	if t.AssignedAgentID != "" {
		s.registry.ReleaseSlot(t.AssignedAgentID, taskID)
	}
	s.persistTask(taskID)
	return nil
}

// Respond delivers a human response to a waiting paired-agent execution.
// Only meaningful when the system uses the in-process channel.
func (s *System) Respond(correlationID, body string, approved bool) error {
	inproc, ok := s.channel.(*channel.InProc)
	if !ok {
		return fmt.Errorf("respond: channel does not accept local responses")
	}
	inproc.Respond(channel.Response{
		CorrelationID: correlationID,
		Body:          body,
		Approved:      approved,
	})
	return nil
}

// Run drives the supervisor loop until the context is cancelled or a stop
// signal arrives, waits for in-flight executions, then persists a final
// snapshot.
func (s *System) Run(ctx context.Context) error {
	err := s.supervisor.Run(ctx)
	if s.exec != nil {
		s.exec.Wait()
	}
	if perr := s.Persist(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// Tick runs a single supervision cycle. Exposed for tests and for callers
// embedding the system in their own loop.
func (s *System) Tick(ctx context.Context) {
	s.supervisor.Tick(ctx)
}

// Persist writes a full snapshot. A system without a store is a no-op.
func (s *System) Persist() error {
	if s.db == nil {
		return nil
	}
	return s.db.SaveSnapshot(store.Snapshot{
		Tasks:           s.queue.Snapshot(queue.SnapshotFilter{}),
		Agents:          s.registry.All(),
		SupervisorState: s.supervisor.State(),
		StateData:       s.supervisor.StateData(),
	})
}

func (s *System) persistTask(taskID string) {
	if s.db == nil {
		return
	}
	if t, ok := s.queue.Get(taskID); ok {
		if err := s.db.SaveTask(t); err != nil {
			s.logger.Log("persist task %s: %v", taskID, err)
		}
	}
}

// Close releases system resources.
func (s *System) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return s.logger.Close()
}

// Queue exposes the task queue for read paths.
func (s *System) Queue() *queue.TaskQueue { return s.queue }

// Registry exposes the agent registry for read paths.
func (s *System) Registry() *registry.AgentRegistry { return s.registry }

// Supervisor exposes the supervisor for commands and observability.
func (s *System) Supervisor() *supervisor.Supervisor { return s.supervisor }

// reasonerPlanner adapts a Reasoner to the supervisor's Planner.
type reasonerPlanner struct {
	r reason.Reasoner
}

func (p *reasonerPlanner) Plan(ctx context.Context, data models.StateData) (string, error) {
	res, err := p.r.Respond(ctx, reason.Request{
		System: "You are the supervisor of a multi-agent task system. Reply with a short prioritization plan.",
		Prompt: fmt.Sprintf(
			"Workload: %d pending, %d running, %d active agents, success rate %.2f. How should the next assignments be ordered?",
			data.PendingTasks, data.RunningTasks, data.ActiveAgents, data.SuccessRate),
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
