package assign

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/overseerhq/overseer/internal/queue"
	"github.com/overseerhq/overseer/internal/registry"
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

type fixture struct {
	queue    *queue.TaskQueue
	registry *registry.AgentRegistry
	engine   *Engine
	clock    *fakeClock
}

func newFixture(t *testing.T, qcfg queue.Config) *fixture {
	t.Helper()
	clock := newFakeClock()
	q := queue.New(qcfg)
	q.SetClock(clock.Now)
	r := registry.New(registry.DefaultConfig())
	r.SetClock(clock.Now)
	return &fixture{
		queue:    q,
		registry: r,
		engine:   New(q, r, DefaultWeights()),
		clock:    clock,
	}
}

func (f *fixture) boss(t *testing.T) models.Agent {
	t.Helper()
	boss, err := f.registry.CreateStandalone("boss", []string{"planning"}, models.LevelBoss, "")
	if err != nil {
		t.Fatalf("create boss: %v", err)
	}
	return boss
}

func (f *fixture) sub(t *testing.T, name string, caps []string) models.Agent {
	t.Helper()
	a, err := f.registry.CreateStandalone(name, caps, models.LevelSubAgent, "")
	if err != nil {
		t.Fatalf("create sub-agent %s: %v", name, err)
	}
	return a
}

func (f *fixture) submit(t *testing.T, spec models.TaskSpec) string {
	t.Helper()
	if spec.Name == "" {
		spec.Name = "task"
	}
	id, err := f.queue.Submit(spec)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func TestAssignNextNoEligibleTask(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)

	a, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Fatalf("got assignment %+v on an empty queue", a)
	}
}

func TestAssignPrefersSubAgentOverBoss(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	sub := f.sub(t, "worker", nil)

	f.submit(t, models.TaskSpec{Name: "routine"})
	a, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Agent.ID != sub.ID {
		t.Errorf("assigned to %s, want sub-agent %s", a.Agent.ID, sub.ID)
	}
}

func TestAssignBossLevelGoesToBoss(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	f.sub(t, "worker", nil)

	f.submit(t, models.TaskSpec{Name: "strategic", RequiresBossLevel: true})
	a, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Agent.ID != models.BossAgentID {
		t.Errorf("assigned to %s, want boss", a.Agent.ID)
	}
}

func TestAssignPrefersHigherPerformance(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	good := f.sub(t, "good", nil)
	bad := f.sub(t, "bad", nil)

	f.registry.RecordOutcome(bad.ID, false, time.Minute)
	f.registry.RecordOutcome(bad.ID, false, time.Minute)

	f.submit(t, models.TaskSpec{Name: "routine"})
	a, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Agent.ID != good.ID {
		t.Errorf("assigned to %s, want %s", a.Agent.ID, good.ID)
	}
}

func TestAssignPrefersLessLoadedAgent(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	busy := f.sub(t, "busy", nil)
	free := f.sub(t, "free", nil)
	if err := f.registry.ReserveSlot(busy.ID, "task-held"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	f.submit(t, models.TaskSpec{Name: "routine"})
	a, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Agent.ID != free.ID {
		t.Errorf("assigned to %s, want %s", a.Agent.ID, free.ID)
	}
}

func TestAssignHonorsRoleHint(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	f.sub(t, "worker", nil)
	paired, err := f.registry.CreateHumanPaired("pair", models.HumanPairing{
		HumanID: "h1", ContactChannel: "email",
	}, nil)
	if err != nil {
		t.Fatalf("create paired: %v", err)
	}

	f.submit(t, models.TaskSpec{Name: "routine", PreferredRole: models.RoleHumanPaired})
	a, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Agent.ID != paired.ID {
		t.Errorf("assigned to %s, want %s", a.Agent.ID, paired.ID)
	}
}

func TestRoutingFailureAndAbandonment(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.RoutingMaxAttempts = 2
	f := newFixture(t, cfg)

	id := f.submit(t, models.TaskSpec{Name: "stranded", RequiredCapabilities: []string{"welding"}})

	_, err := f.engine.AssignNext()
	var rf *models.RoutingFailure
	if !errors.As(err, &rf) {
		t.Fatalf("got %v, want RoutingFailure", err)
	}
	if got, _ := f.queue.Get(id); got.Status != models.TaskStatusPending {
		t.Fatalf("status after first routing failure = %q, want pending", got.Status)
	}

	if _, err = f.engine.AssignNext(); !errors.As(err, &rf) {
		t.Fatalf("got %v, want RoutingFailure", err)
	}
	got, _ := f.queue.Get(id)
	if got.Status != models.TaskStatusFailed {
		t.Errorf("status after routing budget = %q, want failed", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d, routing failures must not consume retries", got.RetryCount)
	}
}

func TestAssignmentLifecycleComplete(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	sub := f.sub(t, "worker", nil)

	id := f.submit(t, models.TaskSpec{Name: "routine"})
	a, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Task.ID != id || a.Agent.ID != sub.ID {
		t.Fatalf("assignment = %+v", a)
	}
	if got, _ := f.registry.Get(sub.ID); !got.HasTask(id) {
		t.Fatal("slot not reserved on assignment")
	}

	if err := f.engine.Begin(id); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got, _ := f.queue.Get(id); got.Status != models.TaskStatusRunning {
		t.Fatalf("status = %q, want running", got.Status)
	}

	if err := f.engine.Complete(id, sub.ID, "done", 5*time.Second); err != nil {
		t.Fatalf("complete: %v", err)
	}
	task, _ := f.queue.Get(id)
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("status = %q, want completed", task.Status)
	}
	agent, _ := f.registry.Get(sub.ID)
	if agent.HasTask(id) {
		t.Error("slot not released on completion")
	}
	if agent.TotalCompleted != 1 {
		t.Errorf("total completed = %d, want 1", agent.TotalCompleted)
	}
}

func TestFailReleasesSlotAndRequeues(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	sub := f.sub(t, "worker", nil)

	id := f.submit(t, models.TaskSpec{Name: "flaky", MaxRetries: 2})
	if _, err := f.engine.AssignNext(); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.engine.Begin(id); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.engine.Fail(id, sub.ID, "boom", time.Second); err != nil {
		t.Fatalf("fail: %v", err)
	}

	task, _ := f.queue.Get(id)
	if task.Status != models.TaskStatusPending {
		t.Errorf("status = %q, want pending for retry", task.Status)
	}
	if task.AssignedAgentID != "" {
		t.Errorf("assignee = %q, want cleared", task.AssignedAgentID)
	}
	agent, _ := f.registry.Get(sub.ID)
	if agent.HasTask(id) {
		t.Error("slot not released on failure")
	}
	if agent.SuccessRate >= 1.0 {
		t.Errorf("success rate = %v, want reduced after failure", agent.SuccessRate)
	}
}

func TestHandleTimeoutsReleasesSlots(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	sub := f.sub(t, "worker", nil)

	id := f.submit(t, models.TaskSpec{
		Name:       "slow",
		MaxRetries: 1,
		Timeout:    time.Minute,
	})
	if _, err := f.engine.AssignNext(); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.engine.Begin(id); err != nil {
		t.Fatalf("begin: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	expired := f.engine.HandleTimeouts(f.clock.Now())
	if len(expired) != 1 || expired[0].TaskID != id || expired[0].AgentID != sub.ID {
		t.Fatalf("expired = %+v", expired)
	}

	task, _ := f.queue.Get(id)
	if task.Status != models.TaskStatusFailed {
		t.Errorf("status = %q, want failed", task.Status)
	}
	agent, _ := f.registry.Get(sub.ID)
	if agent.HasTask(id) {
		t.Error("slot not released after timeout")
	}
}

func TestAllCandidatesAtCapacityIsRoutingFailure(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	sub := f.sub(t, "worker", nil)
	for i := 0; i < registry.DefaultConfig().DefaultMaxConcurrent; i++ {
		if err := f.registry.ReserveSlot(sub.ID, "task-"+string(rune('a'+i))); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	// Keep the boss out of rotation too.
	f.registry.SetError(models.BossAgentID)

	f.submit(t, models.TaskSpec{Name: "stranded"})
	_, err := f.engine.AssignNext()
	var rf *models.RoutingFailure
	if !errors.As(err, &rf) {
		t.Fatalf("got %v, want RoutingFailure", err)
	}
}

func TestStaleCompletionAfterRequeueRejected(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	f.sub(t, "worker", nil)
	f.sub(t, "worker", nil)

	id := f.submit(t, models.TaskSpec{
		Name:       "slow",
		MaxRetries: 3,
		Timeout:    time.Minute,
	})
	first, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.engine.Begin(id); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// The attempt times out and the task is requeued for retry.
	f.clock.Advance(2 * time.Minute)
	if expired := f.engine.HandleTimeouts(f.clock.Now()); len(expired) != 1 {
		t.Fatalf("expired = %+v", expired)
	}

	// A late report from the swept attempt must not finalize the task.
	if err := f.engine.Complete(id, first.Agent.ID, "late", time.Second); err == nil {
		t.Fatal("completion of a requeued task must fail")
	}
	task, _ := f.queue.Get(id)
	if task.Status != models.TaskStatusPending {
		t.Fatalf("status after stale completion = %q, want pending", task.Status)
	}

	// Once another agent holds the task, the superseded attempt's report
	// is still rejected and the new attempt finishes normally.
	f.clock.Advance(time.Minute)
	second, err := f.engine.AssignNext()
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if second.Agent.ID == first.Agent.ID {
		t.Fatalf("expected reassignment to the fresh agent, got %s again", second.Agent.ID)
	}
	if err := f.engine.Begin(id); err != nil {
		t.Fatalf("begin retry: %v", err)
	}
	if err := f.engine.Complete(id, first.Agent.ID, "late", time.Second); err == nil {
		t.Fatal("completion by the superseded agent must fail")
	}
	task, _ = f.queue.Get(id)
	if task.Status != models.TaskStatusRunning {
		t.Fatalf("status after stale completion = %q, want running", task.Status)
	}
	stale, _ := f.registry.Get(first.Agent.ID)
	if stale.TotalCompleted != 0 {
		t.Errorf("superseded agent credited with %d completion(s)", stale.TotalCompleted)
	}

	if err := f.engine.Complete(id, second.Agent.ID, "done", time.Second); err != nil {
		t.Fatalf("complete by holder: %v", err)
	}
	task, _ = f.queue.Get(id)
	if task.Status != models.TaskStatusCompleted || task.Result != "done" {
		t.Errorf("task = %q/%v, want completed/done", task.Status, task.Result)
	}
}

func TestConcurrentAssignNextAssignsOnce(t *testing.T) {
	f := newFixture(t, queue.DefaultConfig())
	f.boss(t)
	f.sub(t, "worker", nil)
	f.sub(t, "worker", nil)
	id := f.submit(t, models.TaskSpec{Name: "single"})

	const attempts = 8
	var wg sync.WaitGroup
	var assigned int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// A lost race surfaces as an error after the loser releases
			// its slot; only wins count.
			a, err := f.engine.AssignNext()
			if err == nil && a != nil {
				atomic.AddInt32(&assigned, 1)
			}
		}()
	}
	wg.Wait()

	if assigned != 1 {
		t.Fatalf("assignments = %d, want exactly 1", assigned)
	}
	task, _ := f.queue.Get(id)
	if task.AssignedAgentID == "" {
		t.Fatal("task has no assignee")
	}
	held := 0
	for _, a := range f.registry.All() {
		if a.HasTask(id) {
			held++
		}
	}
	if held != 1 {
		t.Errorf("task held by %d agent(s), want 1", held)
	}
}
