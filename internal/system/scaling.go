package system

import (
	"fmt"
	"sync"

	"github.com/overseerhq/overseer/internal/config"
	"github.com/overseerhq/overseer/internal/queue"
	"github.com/overseerhq/overseer/internal/registry"
	"github.com/overseerhq/overseer/pkg/models"
)

// ScalingPolicy adjusts agent counts during the supervisor's reflection
// pass: it steers standalone agents toward the configured target, spawns
// an extra worker when routing pressure built up since the last
// reflection, and trims surplus paired and shadow agents toward their
// targets.
type ScalingPolicy struct {
	registry *registry.AgentRegistry
	queue    *queue.TaskQueue

	mu      sync.Mutex
	targets config.ScalingConfig
	spawned int
}

// NewScalingPolicy creates a policy over the registry and queue.
func NewScalingPolicy(r *registry.AgentRegistry, q *queue.TaskQueue, targets config.ScalingConfig) *ScalingPolicy {
	return &ScalingPolicy{registry: r, queue: q, targets: targets}
}

// SetTargets replaces the scaling targets.
func (p *ScalingPolicy) SetTargets(targets config.ScalingConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = targets
}

// Reflect is wired into the supervisor's reflection pass. It returns the
// improvement actions taken.
func (p *ScalingPolicy) Reflect(data models.StateData, stats registry.Stats) []string {
	p.mu.Lock()
	targets := p.targets
	p.mu.Unlock()

	standalone := -1
	currentStandalone := stats.ByRole[models.RoleStandalone]
	target := targets.TargetStandalone
	if targets.SpawnThreshold > 0 && len(data.SystemErrors) >= targets.SpawnThreshold {
		// Routing pressure: grow past the steady-state target by one.
		if target <= currentStandalone {
			target = currentStandalone + 1
		}
	}
	if target > 0 && target != currentStandalone {
		standalone = target
	}

	// Paired and shadow agents need a human counterpart and are only
	// created from the roster, so the policy trims surplus toward their
	// targets and never scales them up.
	paired := -1
	if t := targets.TargetPaired; t > 0 && stats.ByRole[models.RoleHumanPaired] > t {
		paired = t
	}
	shadow := -1
	if t := targets.TargetShadow; t > 0 && stats.ByRole[models.RoleHumanShadow] > t {
		shadow = t
	}

	if standalone < 0 && paired < 0 && shadow < 0 {
		return nil
	}

	err := p.registry.Scale(standalone, paired, shadow, registry.ScaleTemplate{
		Standalone: p.spawnStandalone,
	})
	if err != nil {
		return []string{fmt.Sprintf("scaling agents failed: %v", err)}
	}

	var actions []string
	if standalone >= 0 {
		actions = append(actions, fmt.Sprintf("scaled standalone agents from %d to %d", currentStandalone, standalone))
	}
	if paired >= 0 {
		actions = append(actions, fmt.Sprintf("trimmed human-paired agents from %d toward %d", stats.ByRole[models.RoleHumanPaired], paired))
	}
	if shadow >= 0 {
		actions = append(actions, fmt.Sprintf("trimmed human-shadow agents from %d toward %d", stats.ByRole[models.RoleHumanShadow], shadow))
	}
	return actions
}

// spawnStandalone names agents created by the policy. New workers adopt
// the capabilities of the oldest unassigned task so a spawn triggered by
// routing pressure can actually serve the starved work.
func (p *ScalingPolicy) spawnStandalone(index int) (string, []string) {
	p.mu.Lock()
	p.spawned++
	n := p.spawned
	p.mu.Unlock()

	caps := []string{"general"}
	if p.queue != nil {
		for _, t := range p.queue.Snapshot(queue.SnapshotFilter{Status: models.TaskStatusPending}) {
			if t.AssignedAgentID == "" && len(t.RequiredCapabilities) > 0 {
				caps = t.RequiredCapabilities
				break
			}
		}
	}
	return fmt.Sprintf("worker-%d", n), caps
}
