package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/overseerhq/overseer/internal/assign"
	"github.com/overseerhq/overseer/internal/queue"
	"github.com/overseerhq/overseer/internal/registry"
	"github.com/overseerhq/overseer/pkg/models"
)

// Config contains the supervisor's tick-loop tunables.
type Config struct {
	// TickInterval is the loop period for Run.
	TickInterval time.Duration
	// AssignBudget caps assignments made in a single tick.
	AssignBudget int
	// WorkloadThreshold is the workload above which the supervisor plans
	// in THINKING before executing.
	WorkloadThreshold int
	// ErrorThreshold is the number of errors in a tick window that forces
	// the supervisor to abandon its plan and RETHINK.
	ErrorThreshold int
	// IdleAgentTimeout is how long an agent may sit idle before the
	// reflection pass removes it.
	IdleAgentTimeout time.Duration
	// MaxSystemErrors bounds the retained error list.
	MaxSystemErrors int
}

// DefaultConfig returns the default supervisor tunables.
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second,
		AssignBudget:      10,
		WorkloadThreshold: 10,
		ErrorThreshold:    3,
		IdleAgentTimeout:  10 * time.Minute,
		MaxSystemErrors:   20,
	}
}

// Planner produces a short plan for the current workload. Implementations
// may consult a reasoning backend; a planning error is treated as a system
// error and may send the supervisor into RESEARCHING.
type Planner interface {
	Plan(ctx context.Context, data models.StateData) (string, error)
}

// Dispatcher executes an assignment. Dispatch must not block the tick
// loop; implementations run the execution contract on their own goroutines
// and report the outcome through the assignment engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, a assign.Assignment)
}

// ReflectionHook runs during REFLECTING and returns improvement actions.
// The system wires its scaling policy in through this hook.
type ReflectionHook func(data models.StateData, stats registry.Stats) []string

// Supervisor owns the lifecycle state machine and the periodic tick loop
// that moves work through the system.
type Supervisor struct {
	cfg      Config
	machine  *Machine
	queue    *queue.TaskQueue
	registry *registry.AgentRegistry
	engine   *assign.Engine
	journal  *Journal

	dispatcher Dispatcher
	planner    Planner
	onReflect  ReflectionHook
	watcher    *ControlWatcher
	logger     *DebugLogger

	now func() time.Time

	// mu protects data and errWindow.
	mu        sync.Mutex
	data      models.StateData
	errWindow int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDispatcher sets the executor invoked for each assignment.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Supervisor) { s.dispatcher = d }
}

// WithPlanner sets the planning backend consulted in THINKING.
func WithPlanner(p Planner) Option {
	return func(s *Supervisor) { s.planner = p }
}

// WithReflectionHook sets the hook run during REFLECTING.
func WithReflectionHook(h ReflectionHook) Option {
	return func(s *Supervisor) { s.onReflect = h }
}

// WithControlWatcher sets the filesystem signal watcher.
func WithControlWatcher(w *ControlWatcher) Option {
	return func(s *Supervisor) { s.watcher = w }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// New creates a Supervisor in IDLE over the given queue, registry, and
// assignment engine.
func New(cfg Config, q *queue.TaskQueue, r *registry.AgentRegistry, e *assign.Engine, opts ...Option) *Supervisor {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.AssignBudget <= 0 {
		cfg.AssignBudget = def.AssignBudget
	}
	if cfg.WorkloadThreshold <= 0 {
		cfg.WorkloadThreshold = def.WorkloadThreshold
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	if cfg.MaxSystemErrors <= 0 {
		cfg.MaxSystemErrors = def.MaxSystemErrors
	}

	s := &Supervisor{
		cfg:      cfg,
		machine:  NewMachine(),
		queue:    q,
		registry: r,
		engine:   e,
		journal:  NewJournal(0),
		logger:   NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	setPackageLogger(s.logger)
	return s
}

// SetClock replaces the supervisor's clock for deterministic tests.
func (s *Supervisor) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	s.machine.SetClock(now)
}

// State returns the current supervisor state.
func (s *Supervisor) State() models.SupervisorState {
	return s.machine.Current()
}

// StateData returns a copy of the latest workload snapshot.
func (s *Supervisor) StateData() models.StateData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyDataLocked()
}

func (s *Supervisor) copyDataLocked() models.StateData {
	d := s.data
	d.SystemErrors = append([]string(nil), s.data.SystemErrors...)
	d.ImprovementActions = append([]string(nil), s.data.ImprovementActions...)
	if s.data.LastReflection != nil {
		t := *s.data.LastReflection
		d.LastReflection = &t
	}
	return d
}

// History returns the retained state transition records.
func (s *Supervisor) History() []TransitionRecord {
	return s.machine.History()
}

// Journal returns the supervisor's report journal.
func (s *Supervisor) Journal() *Journal {
	return s.journal
}

// Command applies an operator command. Commands incompatible with the
// current state are rejected with a StateGuardViolation and leave the
// supervisor untouched.
func (s *Supervisor) Command(name string) error {
	state := s.machine.Current()
	switch name {
	case "stop":
		if state == models.StateStop {
			return &models.StateGuardViolation{Command: name, State: state}
		}
		return s.machine.TransitionTo(models.StateStop, "operator stop")
	case "pause", "resume":
		if s.watcher == nil {
			return fmt.Errorf("command %q: no control watcher configured", name)
		}
		s.watcher.SetPaused(name == "pause")
		return nil
	case "rethink":
		if state != models.StateThinking {
			return &models.StateGuardViolation{Command: name, State: state}
		}
		return s.machine.TransitionTo(models.StateRethink, "operator rethink")
	case "reflect":
		if state != models.StateExecuting {
			return &models.StateGuardViolation{Command: name, State: state}
		}
		return s.machine.TransitionTo(models.StateReflecting, "operator reflect")
	case "restart":
		if state != models.StateReflecting {
			return &models.StateGuardViolation{Command: name, State: state}
		}
		return s.machine.TransitionTo(models.StateRestart, "operator restart")
	default:
		return &models.ValidationError{Field: "command", Reason: "unknown command " + name}
	}
}

// Run drives the tick loop until the context is cancelled or the machine
// reaches STOP.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.machine.TransitionTo(models.StateStop, "context cancelled")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
			if s.machine.Current().Terminal() {
				return nil
			}
		}
	}
}

// Tick runs one supervision cycle: consume signals, refresh the workload
// snapshot, expire overdue tasks, and advance the state machine. Exposed
// so tests can drive the loop deterministically.
func (s *Supervisor) Tick(ctx context.Context) {
	if s.watcher != nil {
		if s.watcher.StopRequested() {
			s.machine.TransitionTo(models.StateStop, "stop signal")
			return
		}
		if s.watcher.Paused() {
			return
		}
	}

	now := s.clockNow()
	for _, to := range s.engine.HandleTimeouts(now) {
		s.recordError(fmt.Sprintf("task %s timed out on agent %s", to.TaskID, to.AgentID))
	}
	s.refreshData()

	// An inconsistent registry is fatal: force RESTART from wherever the
	// machine currently is.
	if st := s.machine.Current(); st != models.StateRestart && st != models.StateStop {
		if violations := s.registry.CheckInvariants(); len(violations) > 0 {
			for _, v := range violations {
				s.recordError("invariant: " + v)
			}
			s.journal.Add(ReportEntry{
				At:      now,
				State:   st,
				Kind:    "invariant",
				Message: fmt.Sprintf("%d invariant violation(s), restarting", len(violations)),
			})
			s.machine.TransitionTo(models.StateRestart, "invariant violation")
			return
		}
	}

	switch s.machine.Current() {
	case models.StateIdle:
		s.tickIdle()
	case models.StateAwake:
		s.tickAwake()
	case models.StateThinking:
		s.tickThinking(ctx)
	case models.StateRethink:
		s.tickRethink()
	case models.StateExecuting:
		s.tickExecuting(ctx)
	case models.StateResearching:
		s.tickResearching()
	case models.StateReflecting:
		s.tickReflecting()
	case models.StateRestart:
		s.tickRestart()
	case models.StateStop:
	}
}

func (s *Supervisor) clockNow() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// refreshData recomputes the workload snapshot from the queue and registry.
func (s *Supervisor) refreshData() {
	counts := s.queue.Counts()
	stats := s.registry.Stats()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PendingTasks = counts.Pending
	s.data.RunningTasks = counts.Running
	s.data.CurrentWorkload = counts.Workload()
	s.data.ActiveAgents = stats.ActiveAgents
	s.data.TotalProcessed = counts.Completed + counts.Failed
	s.data.SuccessRate = counts.SuccessRate()
}

func (s *Supervisor) recordError(msg string) {
	debugLog("system error: %s", msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errWindow++
	s.data.SystemErrors = append(s.data.SystemErrors, msg)
	if len(s.data.SystemErrors) > s.cfg.MaxSystemErrors {
		s.data.SystemErrors = s.data.SystemErrors[len(s.data.SystemErrors)-s.cfg.MaxSystemErrors:]
	}
}

func (s *Supervisor) errorPressure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errWindow >= s.cfg.ErrorThreshold
}

func (s *Supervisor) clearErrorWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errWindow = 0
	s.data.SystemErrors = nil
}

func (s *Supervisor) tickIdle() {
	if s.StateData().PendingTasks > 0 {
		s.machine.TransitionTo(models.StateAwake, "work arrived")
	}
}

func (s *Supervisor) tickAwake() {
	d := s.StateData()
	switch {
	case d.CurrentWorkload > s.cfg.WorkloadThreshold:
		s.machine.TransitionTo(models.StateThinking, "workload above threshold")
	case d.PendingTasks > 0:
		s.machine.TransitionTo(models.StateExecuting, "work pending")
	default:
		s.machine.TransitionTo(models.StateIdle, "no work")
	}
}

func (s *Supervisor) tickThinking(ctx context.Context) {
	if s.planner != nil {
		plan, err := s.planner.Plan(ctx, s.StateData())
		if err != nil {
			s.recordError(fmt.Sprintf("planning: %v", err))
			s.machine.TransitionTo(models.StateResearching, "planning failed")
			return
		}
		s.journal.Add(ReportEntry{
			At:      s.clockNow(),
			State:   models.StateThinking,
			Kind:    "plan",
			Message: plan,
		})
	}
	s.machine.TransitionTo(models.StateExecuting, "plan ready")
}

func (s *Supervisor) tickExecuting(ctx context.Context) {
	assigned := 0
	for i := 0; i < s.cfg.AssignBudget; i++ {
		a, err := s.engine.AssignNext()
		if err != nil {
			var rf *models.RoutingFailure
			if errors.As(err, &rf) {
				// Routing pressure is recoverable. Leave the task for a
				// later tick; repeated pressure shows up as errors.
				s.recordError(err.Error())
				break
			}
			s.recordError(err.Error())
			break
		}
		if a == nil {
			break
		}
		assigned++
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(ctx, *a)
		}
	}
	if assigned > 0 {
		debugLog("tick assigned %d task(s)", assigned)
	}

	s.refreshData()
	d := s.StateData()
	switch {
	case s.errorPressure():
		s.machine.TransitionTo(models.StateRethink, "error threshold exceeded")
	case d.CurrentWorkload == 0:
		s.machine.TransitionTo(models.StateReflecting, "workload drained")
	}
}

// tickRethink discards the current plan. The error window resets so the
// revised plan is judged on fresh evidence.
func (s *Supervisor) tickRethink() {
	d := s.StateData()
	if len(d.SystemErrors) > 0 {
		s.journal.Add(ReportEntry{
			At:      s.clockNow(),
			State:   models.StateRethink,
			Kind:    "rethink",
			Message: fmt.Sprintf("plan abandoned after %d error(s)", len(d.SystemErrors)),
		})
		s.clearErrorWindow()
	}
	s.machine.TransitionTo(models.StateThinking, "revising plan")
}

func (s *Supervisor) tickResearching() {
	// Investigation is bounded: record what was seen, reset the error
	// window, and resume.
	d := s.StateData()
	s.journal.Add(ReportEntry{
		At:      s.clockNow(),
		State:   models.StateResearching,
		Kind:    "anomaly",
		Message: fmt.Sprintf("investigated %d error(s)", len(d.SystemErrors)),
	})
	s.clearErrorWindow()
	if d.PendingTasks > 0 {
		s.machine.TransitionTo(models.StateExecuting, "resuming after research")
	} else {
		s.machine.TransitionTo(models.StateAwake, "research complete")
	}
}

func (s *Supervisor) tickReflecting() {
	now := s.clockNow()
	removed := s.registry.RemoveIdle(s.cfg.IdleAgentTimeout)

	var actions []string
	if removed > 0 {
		actions = append(actions, fmt.Sprintf("removed %d idle agent(s)", removed))
	}
	if s.onReflect != nil {
		actions = append(actions, s.onReflect(s.StateData(), s.registry.Stats())...)
	}

	notes := "system healthy"
	if len(actions) > 0 {
		notes = fmt.Sprintf("%d improvement action(s) taken", len(actions))
	}

	s.mu.Lock()
	s.data.LastReflection = &now
	s.data.ReflectionNotes = notes
	s.data.ImprovementActions = actions
	s.mu.Unlock()

	s.journal.Add(ReportEntry{
		At:      now,
		State:   models.StateReflecting,
		Kind:    "reflection",
		Message: notes,
	})

	if s.StateData().PendingTasks > 0 {
		s.machine.TransitionTo(models.StateAwake, "work pending after reflection")
	} else {
		s.machine.TransitionTo(models.StateIdle, "reflection complete")
	}
}

// tickRestart re-establishes invariants and returns to service. The
// machine holds in RESTART while the registry is still inconsistent.
func (s *Supervisor) tickRestart() {
	if violations := s.registry.CheckInvariants(); len(violations) > 0 {
		s.journal.Add(ReportEntry{
			At:      s.clockNow(),
			State:   models.StateRestart,
			Kind:    "invariant",
			Message: fmt.Sprintf("%d invariant violation(s) outstanding", len(violations)),
		})
		return
	}
	s.clearErrorWindow()
	if s.StateData().PendingTasks > 0 {
		s.machine.TransitionTo(models.StateAwake, "restart complete")
	} else {
		s.machine.TransitionTo(models.StateIdle, "restart complete")
	}
}
