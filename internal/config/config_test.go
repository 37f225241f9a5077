package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFromPathDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Supervisor.TickInterval != time.Second {
		t.Errorf("tick interval = %v, want 1s", cfg.Supervisor.TickInterval)
	}
	if cfg.Supervisor.AssignBudget != 10 {
		t.Errorf("assign budget = %d, want 10", cfg.Supervisor.AssignBudget)
	}
	if cfg.Queue.BackoffBase != 2*time.Second {
		t.Errorf("backoff base = %v, want 2s", cfg.Queue.BackoffBase)
	}
	if cfg.Queue.RoutingMaxAttempts != 0 {
		t.Errorf("routing max attempts = %d, want 0 (unbounded)", cfg.Queue.RoutingMaxAttempts)
	}
	if cfg.Registry.MaxAgents != 50 {
		t.Errorf("max agents = %d, want 50", cfg.Registry.MaxAgents)
	}
}

func TestLoadFromPathOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
supervisor:
  tick_interval: 250ms
  workload_threshold: 4
queue:
  routing_max_attempts: 7
anthropic:
  use_bedrock: true
  aws_region: us-west-2
storage:
  db_path: /tmp/overseer-test.db
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Supervisor.TickInterval != 250*time.Millisecond {
		t.Errorf("tick interval = %v, want 250ms", cfg.Supervisor.TickInterval)
	}
	if cfg.Supervisor.WorkloadThreshold != 4 {
		t.Errorf("workload threshold = %d, want 4", cfg.Supervisor.WorkloadThreshold)
	}
	if cfg.Queue.RoutingMaxAttempts != 7 {
		t.Errorf("routing max attempts = %d, want 7", cfg.Queue.RoutingMaxAttempts)
	}
	if !cfg.Anthropic.UseBedrock || cfg.Anthropic.AWSRegion != "us-west-2" {
		t.Errorf("anthropic = %+v", cfg.Anthropic)
	}
	if cfg.Storage.DBPath != "/tmp/overseer-test.db" {
		t.Errorf("db path = %q", cfg.Storage.DBPath)
	}
}

func TestAPIKeyEnvExpansion(t *testing.T) {
	t.Setenv("TEST_OVERSEER_KEY", "sk-from-env")
	path := writeFile(t, t.TempDir(), "config.yaml", `
anthropic:
  api_key: ${TEST_OVERSEER_KEY}
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want expanded value", cfg.Anthropic.APIKey)
	}
}

func TestLoadRoster(t *testing.T) {
	path := writeFile(t, t.TempDir(), "roster.yaml", `
agents:
  - name: indexer
    role: standalone
    capabilities: [indexing, search]
  - name: analyst
    role: standalone
    description: "Analyzes data and writes reports"
  - name: pairbot
    role: human_paired
    human_id: human-1
    human_name: Dana
    contact_channel: "slack:#ops"
  - name: deputy
    role: human_shadow
    human_id: human-2
    permissions: [approve_deploy]
scaling:
  target_standalone: 3
  spawn_threshold: 5
`)

	r, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("load roster: %v", err)
	}
	if len(r.Agents) != 4 {
		t.Fatalf("agents = %d, want 4", len(r.Agents))
	}
	if got := r.Agents[0].Capabilities; len(got) != 2 || got[0] != "indexing" {
		t.Errorf("explicit capabilities = %v", got)
	}

	inferred := r.Agents[1].Capabilities
	want := map[string]bool{"analysis": true, "writing": true}
	for _, c := range inferred {
		if !want[c] {
			t.Errorf("unexpected inferred capability %q", c)
		}
	}
	if len(inferred) != 2 {
		t.Errorf("inferred = %v, want analysis and writing", inferred)
	}

	if r.Scaling.TargetStandalone != 3 || r.Scaling.SpawnThreshold != 5 {
		t.Errorf("scaling = %+v", r.Scaling)
	}
}

func TestLoadRosterValidation(t *testing.T) {
	tests := []struct {
		name   string
		roster string
	}{
		{"missing name", "agents:\n  - role: standalone\n"},
		{"unknown role", "agents:\n  - name: x\n    role: freelancer\n"},
		{"paired without channel", "agents:\n  - name: x\n    role: human_paired\n    human_id: h1\n"},
		{"shadow without permissions", "agents:\n  - name: x\n    role: human_shadow\n    human_id: h1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "roster.yaml", tt.roster)
			if _, err := LoadRoster(path); err == nil {
				t.Error("invalid roster accepted")
			}
		})
	}
}

func TestInferCapabilitiesFallback(t *testing.T) {
	if got := InferCapabilities("handles miscellaneous chores"); len(got) != 1 || got[0] != "general" {
		t.Errorf("fallback = %v, want [general]", got)
	}
}
