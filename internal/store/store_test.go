package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/overseerhq/overseer/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "overseer.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := openTestDB(t)
	started := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	task := models.Task{
		ID:                   "task-1",
		Name:                 "index documents",
		Description:          "rebuild the search index",
		RequiredCapabilities: []string{"indexing", "search"},
		Priority:             models.PriorityHigh,
		PreferredRole:        models.RoleStandalone,
		RequiredPermissions:  []string{"read_corpus"},
		Status:               models.TaskStatusRunning,
		AssignedAgentID:      "agent-ab12cd34",
		RetryCount:           1,
		MaxRetries:           3,
		Timeout:              2 * time.Minute,
		CreatedAt:            time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EligibleAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		StartedAt:            &started,
		ErrorMessage:         "first attempt timed out",
		Payload:              map[string]any{"corpus": "docs"},
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save: %v", err)
	}

	tasks, err := db.LoadTasks()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("loaded %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	if got.ID != task.ID || got.Name != task.Name || got.Status != task.Status {
		t.Errorf("core fields = %q/%q/%q", got.ID, got.Name, got.Status)
	}
	if got.Priority != models.PriorityHigh {
		t.Errorf("priority = %v, want high", got.Priority)
	}
	if len(got.RequiredCapabilities) != 2 {
		t.Errorf("capabilities = %v", got.RequiredCapabilities)
	}
	if got.Timeout != 2*time.Minute {
		t.Errorf("timeout = %v", got.Timeout)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil", got.CompletedAt)
	}
	payload, ok := got.Payload.(map[string]any)
	if !ok || payload["corpus"] != "docs" {
		t.Errorf("payload = %v", got.Payload)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	agent := models.Agent{
		ID:       "agent-shadow1",
		Name:     "shadow",
		RoleType: models.RoleHumanShadow,
		RepresentedHumanID:   "human-7",
		RepresentedHumanName: "Lee",
		ShadowPermissions:    []string{"approve_deploy"},
		Capabilities:         []string{"deploys"},
		MaxConcurrentTasks:   2,
		CurrentTaskIDs:       []string{"task-9"},
		Status:               models.AgentStatusActive,
		PerformanceScore:     0.91,
		TotalCompleted:       12,
		SuccessRate:          0.95,
		AverageResponseTime:  45 * time.Second,
		CreatedAt:            time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		LastActive:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := db.SaveAgent(agent); err != nil {
		t.Fatalf("save: %v", err)
	}

	paired := models.Agent{
		ID:       "agent-paired1",
		Name:     "pair",
		RoleType: models.RoleHumanPaired,
		Pairing: &models.HumanPairing{
			HumanID:        "human-3",
			HumanName:      "Dana",
			ContactChannel: "slack:#ops",
		},
		MaxConcurrentTasks: 1,
		Status:             models.AgentStatusIdle,
		CreatedAt:          time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		LastActive:         time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := db.SaveAgent(paired); err != nil {
		t.Fatalf("save paired: %v", err)
	}

	agents, err := db.LoadAgents()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("loaded %d agents, want 2", len(agents))
	}

	var gotShadow, gotPaired *models.Agent
	for i := range agents {
		switch agents[i].ID {
		case agent.ID:
			gotShadow = &agents[i]
		case paired.ID:
			gotPaired = &agents[i]
		}
	}
	if gotShadow == nil || gotPaired == nil {
		t.Fatal("missing agents after load")
	}
	if gotShadow.RepresentedHumanID != "human-7" || len(gotShadow.ShadowPermissions) != 1 {
		t.Errorf("shadow fields = %+v", gotShadow)
	}
	if gotShadow.AverageResponseTime != 45*time.Second {
		t.Errorf("avg response = %v", gotShadow.AverageResponseTime)
	}
	if gotPaired.Pairing == nil || gotPaired.Pairing.ContactChannel != "slack:#ops" {
		t.Errorf("pairing = %+v", gotPaired.Pairing)
	}
	if gotShadow.Pairing != nil {
		t.Error("shadow agent gained a pairing record")
	}
}

func TestSupervisorRoundTrip(t *testing.T) {
	db := openTestDB(t)

	state, data, err := db.LoadSupervisor()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if state != models.StateIdle {
		t.Errorf("empty state = %q, want idle", state)
	}

	want := models.StateData{
		PendingTasks:    3,
		CurrentWorkload: 5,
		SuccessRate:     0.8,
		SystemErrors:    []string{"task task-1 timed out"},
	}
	if err := db.SaveSupervisor(models.StateExecuting, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	state, data, err = db.LoadSupervisor()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state != models.StateExecuting {
		t.Errorf("state = %q, want executing", state)
	}
	if data.PendingTasks != 3 || data.SuccessRate != 0.8 || len(data.SystemErrors) != 1 {
		t.Errorf("data = %+v", data)
	}
}

func TestLoadRepairsInFlightState(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	running := models.Task{
		ID: "task-1", Name: "interrupted", Status: models.TaskStatusRunning,
		AssignedAgentID: "agent-w1", MaxRetries: 2,
		CreatedAt: now, EligibleAt: now, StartedAt: &now,
	}
	done := models.Task{
		ID: "task-2", Name: "finished", Status: models.TaskStatusCompleted,
		CreatedAt: now, EligibleAt: now, CompletedAt: &now,
	}
	worker := models.Agent{
		ID: "agent-w1", Name: "worker", RoleType: models.RoleStandalone,
		HierarchyLevel: models.LevelSubAgent, ParentAgentID: models.BossAgentID,
		MaxConcurrentTasks: 3, CurrentTaskIDs: []string{"task-1"},
		Status: models.AgentStatusActive, CreatedAt: now, LastActive: now,
	}
	for _, task := range []models.Task{running, done} {
		if err := db.SaveTask(task); err != nil {
			t.Fatalf("save task: %v", err)
		}
	}
	if err := db.SaveAgent(worker); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	snap, err := db.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Repairs) != 2 {
		t.Fatalf("repairs = %v, want 2 entries", snap.Repairs)
	}

	for _, task := range snap.Tasks {
		switch task.ID {
		case "task-1":
			if task.Status != models.TaskStatusPending {
				t.Errorf("interrupted task status = %q, want pending", task.Status)
			}
			if task.AssignedAgentID != "" || task.StartedAt != nil {
				t.Error("interrupted task retains assignment")
			}
		case "task-2":
			if task.Status != models.TaskStatusCompleted {
				t.Errorf("terminal task status changed to %q", task.Status)
			}
		}
	}
	if got := snap.Agents[0]; len(got.CurrentTaskIDs) != 0 || got.Status != models.AgentStatusIdle {
		t.Errorf("agent after repair = %+v", got)
	}
}
