package system

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/overseerhq/overseer/internal/assign"
	"github.com/overseerhq/overseer/internal/channel"
	"github.com/overseerhq/overseer/internal/config"
	"github.com/overseerhq/overseer/internal/queue"
	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/pkg/models"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() *config.Config {
	return &config.Config{
		Supervisor: config.SupervisorConfig{
			TickInterval:      time.Second,
			AssignBudget:      10,
			WorkloadThreshold: 10,
			ErrorThreshold:    3,
			IdleAgentTimeout:  10 * time.Minute,
		},
		Queue: config.QueueConfig{
			BackoffBase: 2 * time.Second,
			BackoffCap:  5 * time.Minute,
		},
		Registry: config.RegistryConfig{
			MaxAgents:            50,
			DefaultMaxConcurrent: 3,
		},
	}
}

// beginDispatcher starts executions but never finishes them, leaving tasks
// running until a timeout sweep reclaims them.
type beginDispatcher struct {
	sys *System
}

func (d *beginDispatcher) Dispatch(ctx context.Context, a assign.Assignment) {
	d.sys.engine.Begin(a.Task.ID)
}

// inlineDispatcher runs the real executor synchronously so ticks are
// deterministic.
type inlineDispatcher struct {
	x *executor
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, a assign.Assignment) {
	d.x.run(ctx, a)
}

// noopDispatcher leaves assignments untouched.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, a assign.Assignment) {}

func TestTimeoutRetriesThenFailsTerminally(t *testing.T) {
	d := &beginDispatcher{}
	sys, err := New(testConfig(), WithDispatcher(d))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()
	d.sys = sys

	clock := newFakeClock()
	sys.SetClock(clock.Now)

	if _, err := sys.EnsureBoss(); err != nil {
		t.Fatalf("EnsureBoss: %v", err)
	}
	if _, err := sys.Registry().CreateStandalone("worker", []string{"general"}, models.LevelSubAgent, ""); err != nil {
		t.Fatalf("create worker: %v", err)
	}

	id, err := sys.Submit(models.TaskSpec{
		Name:                 "flaky job",
		RequiredCapabilities: []string{"general"},
		MaxRetries:           2,
		Timeout:              time.Minute,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx := context.Background()
	sys.Tick(ctx) // IDLE -> AWAKE
	sys.Tick(ctx) // AWAKE -> EXECUTING
	sys.Tick(ctx) // first attempt begins

	if got, _ := sys.Queue().Get(id); got.Status != models.TaskStatusRunning {
		t.Fatalf("after first dispatch status = %s, want running", got.Status)
	}

	// First timeout: one retry left, task requeued with backoff.
	clock.Advance(2 * time.Minute)
	sys.Tick(ctx)
	got, _ := sys.Queue().Get(id)
	if got.Status != models.TaskStatusPending || got.RetryCount != 1 {
		t.Fatalf("after first timeout status = %s retries = %d, want pending/1", got.Status, got.RetryCount)
	}

	// Past the retry backoff, the second attempt begins.
	clock.Advance(10 * time.Second)
	sys.Tick(ctx)
	if got, _ = sys.Queue().Get(id); got.Status != models.TaskStatusRunning {
		t.Fatalf("retry did not start, status = %s", got.Status)
	}

	// Second timeout exhausts the retry budget.
	clock.Advance(2 * time.Minute)
	sys.Tick(ctx)
	got, _ = sys.Queue().Get(id)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("after second timeout status = %s, want failed", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("terminal retry count = %d, want 2", got.RetryCount)
	}

	for _, a := range sys.Agents() {
		if a.HasTask(id) {
			t.Fatalf("agent %s still holds the failed task", a.ID)
		}
	}
}

func TestSubmitTickCompletesThroughExecutor(t *testing.T) {
	d := &inlineDispatcher{}
	sys, err := New(testConfig(), WithDispatcher(d))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()
	d.x = newExecutor(sys.engine, nil, sys.channel)

	clock := newFakeClock()
	sys.SetClock(clock.Now)

	if _, err := sys.EnsureBoss(); err != nil {
		t.Fatalf("EnsureBoss: %v", err)
	}
	if _, err := sys.Registry().CreateStandalone("worker", nil, models.LevelSubAgent, ""); err != nil {
		t.Fatalf("create worker: %v", err)
	}

	id, err := sys.Submit(models.TaskSpec{Name: "summarize report"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx := context.Background()
	sys.Tick(ctx)
	sys.Tick(ctx)
	sys.Tick(ctx)

	got, ok := sys.Queue().Get(id)
	if !ok || got.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Result != "completed: summarize report" {
		t.Fatalf("result = %v", got.Result)
	}
	if sys.Status().TaskCounts.Completed != 1 {
		t.Fatalf("counts = %+v, want 1 completed", sys.Status().TaskCounts)
	}
}

func TestShadowPermissionRecheckAtExecution(t *testing.T) {
	x := &executor{}
	shadow := models.Agent{
		ID:                 "agent-shadow",
		Name:               "shadow",
		RoleType:           models.RoleHumanShadow,
		RepresentedHumanID: "human-1",
		ShadowPermissions:  []string{"read"},
	}

	_, err := x.runShadow(context.Background(), assign.Assignment{
		Task:  models.Task{ID: "t1", Name: "deploy service", RequiredPermissions: []string{"deploy"}},
		Agent: shadow,
	})
	if err == nil {
		t.Fatal("expected execution failure for missing permission")
	}
	var ef *models.ExecutionFailure
	if !errors.As(err, &ef) {
		t.Fatalf("error type = %T", err)
	}

	res, err := x.runShadow(context.Background(), assign.Assignment{
		Task:  models.Task{ID: "t2", Name: "read logs", RequiredPermissions: []string{"read"}},
		Agent: shadow,
	})
	if err != nil {
		t.Fatalf("permitted task failed: %v", err)
	}
	if res != "completed on behalf of human-1: read logs" {
		t.Fatalf("result = %v", res)
	}
}

func TestPairedExecutionDeliversHumanResponse(t *testing.T) {
	ch := channel.NewInProc()
	x := newExecutor(nil, nil, ch)

	// The response arrives before the agent starts waiting; the channel
	// buffers it by correlation ID.
	ch.Respond(channel.Response{CorrelationID: "task-7", Body: "approved, ship it", Approved: true})

	pairing := &models.HumanPairing{HumanID: "human-2", ContactChannel: "slack:#ops"}
	res, err := x.runPaired(context.Background(), assign.Assignment{
		Task:  models.Task{ID: "task-7", Name: "release sign-off"},
		Agent: models.Agent{ID: "agent-p", Name: "pair", RoleType: models.RoleHumanPaired, Pairing: pairing},
	})
	if err != nil {
		t.Fatalf("runPaired: %v", err)
	}
	if res != "approved, ship it" {
		t.Fatalf("result = %v", res)
	}

	out := ch.Outbox()
	if len(out) != 1 || out[0].Recipient != "human-2" || out[0].CorrelationID != "task-7" {
		t.Fatalf("outbox = %+v", out)
	}
}

func TestApplyRosterCreatesAgentsAndTargets(t *testing.T) {
	sys, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()

	roster := &config.Roster{
		Agents: []config.RosterEntry{
			{Name: "researcher", Role: "standalone", Capabilities: []string{"research"}},
			{Name: "reviewer", Role: "human_paired", HumanID: "human-3", ContactChannel: "email:rev@example.com"},
			{Name: "ops-shadow", Role: "human_shadow", HumanID: "human-4", Permissions: []string{"deploy"}},
		},
		Scaling: config.ScalingConfig{TargetStandalone: 4},
	}
	if err := sys.ApplyRoster(roster); err != nil {
		t.Fatalf("ApplyRoster: %v", err)
	}

	if _, ok := sys.Registry().Get(models.BossAgentID); !ok {
		t.Fatal("boss was not created")
	}
	stats := sys.Registry().Stats()
	if stats.ByRole[models.RoleStandalone] != 2 {
		t.Fatalf("standalone count = %d, want 2 (boss + researcher)", stats.ByRole[models.RoleStandalone])
	}
	if stats.ByRole[models.RoleHumanPaired] != 1 || stats.ByRole[models.RoleHumanShadow] != 1 {
		t.Fatalf("role counts = %+v", stats.ByRole)
	}

	// The adopted target drives the next reflection pass.
	actions := sys.scaling.Reflect(models.StateData{}, sys.Registry().Stats())
	if len(actions) != 1 {
		t.Fatalf("actions = %v", actions)
	}
	if got := sys.Registry().Stats().ByRole[models.RoleStandalone]; got != 4 {
		t.Fatalf("standalone agents after reflection = %d, want 4", got)
	}
}

func TestScalingSpawnsUnderRoutingPressure(t *testing.T) {
	sys, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()
	if _, err := sys.EnsureBoss(); err != nil {
		t.Fatalf("EnsureBoss: %v", err)
	}
	sys.scaling.SetTargets(config.ScalingConfig{TargetStandalone: 1, SpawnThreshold: 2})

	// At target, a quiet reflection changes nothing.
	if actions := sys.scaling.Reflect(models.StateData{}, sys.Registry().Stats()); len(actions) != 0 {
		t.Fatalf("quiet reflection acted: %v", actions)
	}

	// The starved task's capabilities shape the spawned worker.
	if _, err := sys.Submit(models.TaskSpec{Name: "scan receipts", RequiredCapabilities: []string{"ocr"}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pressured := models.StateData{SystemErrors: []string{"no agent for t1", "no agent for t2"}}
	actions := sys.scaling.Reflect(pressured, sys.Registry().Stats())
	if len(actions) != 1 {
		t.Fatalf("actions = %v", actions)
	}
	if got := sys.Registry().Stats().ByRole[models.RoleStandalone]; got != 2 {
		t.Fatalf("standalone agents = %d, want 2", got)
	}
	var spawned models.Agent
	for _, a := range sys.Agents() {
		if a.Name == "worker-1" {
			spawned = a
		}
	}
	if spawned.ID == "" {
		t.Fatal("spawned worker not found")
	}
	if !spawned.HasCapabilities([]string{"ocr"}) {
		t.Fatalf("spawned worker capabilities = %v, want ocr", spawned.Capabilities)
	}
}

func TestScalingTrimsPairedAndShadowTowardTargets(t *testing.T) {
	sys, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()

	roster := &config.Roster{
		Agents: []config.RosterEntry{
			{Name: "reviewer-a", Role: "human_paired", HumanID: "human-1", ContactChannel: "email:a@example.com"},
			{Name: "reviewer-b", Role: "human_paired", HumanID: "human-2", ContactChannel: "email:b@example.com"},
			{Name: "shadow-a", Role: "human_shadow", HumanID: "human-3", Permissions: []string{"deploy"}},
			{Name: "shadow-b", Role: "human_shadow", HumanID: "human-4", Permissions: []string{"deploy"}},
		},
		Scaling: config.ScalingConfig{TargetPaired: 1, TargetShadow: 1},
	}
	if err := sys.ApplyRoster(roster); err != nil {
		t.Fatalf("ApplyRoster: %v", err)
	}

	actions := sys.scaling.Reflect(models.StateData{}, sys.Registry().Stats())
	if len(actions) != 2 {
		t.Fatalf("actions = %v, want paired and shadow trims", actions)
	}
	stats := sys.Registry().Stats()
	if stats.ByRole[models.RoleHumanPaired] != 1 {
		t.Errorf("paired count = %d, want 1", stats.ByRole[models.RoleHumanPaired])
	}
	if stats.ByRole[models.RoleHumanShadow] != 1 {
		t.Errorf("shadow count = %d, want 1", stats.ByRole[models.RoleHumanShadow])
	}

	// Already at target: a second reflection changes nothing.
	if actions := sys.scaling.Reflect(models.StateData{}, sys.Registry().Stats()); len(actions) != 0 {
		t.Fatalf("reflection at target acted: %v", actions)
	}
}

func TestCancelReleasesAssignedSlot(t *testing.T) {
	sys, err := New(testConfig(), WithDispatcher(noopDispatcher{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()

	clock := newFakeClock()
	sys.SetClock(clock.Now)

	if _, err := sys.EnsureBoss(); err != nil {
		t.Fatalf("EnsureBoss: %v", err)
	}
	worker, err := sys.Registry().CreateStandalone("worker", nil, models.LevelSubAgent, "")
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}

	id, err := sys.Submit(models.TaskSpec{Name: "stale work"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx := context.Background()
	sys.Tick(ctx)
	sys.Tick(ctx)
	sys.Tick(ctx)

	got, _ := sys.Queue().Get(id)
	if got.AssignedAgentID == "" {
		t.Fatal("task was never assigned")
	}

	if err := sys.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ = sys.Queue().Get(id)
	if got.Status != models.TaskStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	a, _ := sys.Registry().Get(worker.ID)
	if len(a.CurrentTaskIDs) != 0 {
		t.Fatalf("worker still holds %v", a.CurrentTaskIDs)
	}

	if err := sys.Cancel("no-such-task"); err == nil {
		t.Fatal("cancelling an unknown task should fail")
	}
}

func TestPersistAndRestoreAcrossSystems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.db")

	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	first, err := New(testConfig(), WithStore(db))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := first.EnsureBoss(); err != nil {
		t.Fatalf("EnsureBoss: %v", err)
	}
	idA, err := first.Submit(models.TaskSpec{Name: "first", Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	idB, err := first.Submit(models.TaskSpec{Name: "second"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := first.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	first.Close()

	db2, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := db2.Migrate(); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	second, err := New(testConfig(), WithStore(db2))
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer second.Close()

	if _, ok := second.Registry().Get(models.BossAgentID); !ok {
		t.Fatal("boss did not survive restart")
	}
	for _, id := range []string{idA, idB} {
		got, ok := second.Queue().Get(id)
		if !ok {
			t.Fatalf("task %s missing after restart", id)
		}
		if got.Status != models.TaskStatusPending {
			t.Fatalf("task %s status = %s, want pending", id, got.Status)
		}
	}
	got, _ := second.Queue().Get(idA)
	if got.Priority != models.PriorityHigh {
		t.Fatalf("priority = %s, want high", got.Priority)
	}
}

func TestRespondRequiresInProcChannel(t *testing.T) {
	sys, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()

	if err := sys.Respond("corr-1", "ok", true); err != nil {
		t.Fatalf("Respond on in-process channel: %v", err)
	}

	sys.channel = silentChannel{}
	if err := sys.Respond("corr-1", "ok", true); err == nil {
		t.Fatal("Respond should fail on a non-local channel")
	}
}

type silentChannel struct{}

func (silentChannel) Notify(ctx context.Context, msg channel.Message) error { return nil }
func (silentChannel) AwaitResponse(ctx context.Context, correlationID string, timeout time.Duration) (channel.Response, error) {
	return channel.Response{}, channel.ErrTimeout
}

func TestTasksSnapshotFilter(t *testing.T) {
	sys, err := New(testConfig(), WithDispatcher(noopDispatcher{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()

	if _, err := sys.Submit(models.TaskSpec{Name: "one"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := sys.Submit(models.TaskSpec{Name: "two"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	all := sys.Tasks(queue.SnapshotFilter{})
	if len(all) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(all))
	}
	pending := sys.Tasks(queue.SnapshotFilter{Status: models.TaskStatusPending})
	if len(pending) != 2 {
		t.Fatalf("pending snapshot size = %d, want 2", len(pending))
	}
	done := sys.Tasks(queue.SnapshotFilter{Status: models.TaskStatusCompleted})
	if len(done) != 0 {
		t.Fatalf("completed snapshot size = %d, want 0", len(done))
	}
}
