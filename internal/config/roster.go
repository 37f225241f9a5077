package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/overseerhq/overseer/pkg/models"
)

// Roster is a declarative set of agents to register at startup, plus the
// scaling targets the reflection pass steers toward.
type Roster struct {
	Agents  []RosterEntry `yaml:"agents"`
	Scaling ScalingConfig `yaml:"scaling"`
}

// RosterEntry describes one agent to create.
type RosterEntry struct {
	Name        string `yaml:"name"`
	Role        string `yaml:"role"`
	Description string `yaml:"description,omitempty"`
	// Capabilities lists the agent's capabilities. Empty entries are
	// inferred from the description.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Human-paired fields.
	HumanID        string `yaml:"human_id,omitempty"`
	HumanName      string `yaml:"human_name,omitempty"`
	ContactChannel string `yaml:"contact_channel,omitempty"`

	// Human-shadow fields.
	Permissions []string `yaml:"permissions,omitempty"`
}

// ScalingConfig holds the per-role agent count targets. A zero target
// means the role is not scaled automatically.
type ScalingConfig struct {
	TargetStandalone int `yaml:"target_standalone"`
	TargetPaired     int `yaml:"target_paired"`
	TargetShadow     int `yaml:"target_shadow"`
	// SpawnThreshold is the number of routing failures per reflection
	// window that triggers an extra standalone agent.
	SpawnThreshold int `yaml:"spawn_threshold"`
}

// LoadRoster reads a roster YAML file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	for i := range r.Agents {
		if len(r.Agents[i].Capabilities) == 0 {
			r.Agents[i].Capabilities = InferCapabilities(r.Agents[i].Description)
		}
	}
	return &r, nil
}

// Validate checks the roster for structural problems.
func (r *Roster) Validate() error {
	for i, e := range r.Agents {
		if e.Name == "" {
			return fmt.Errorf("roster agent %d: name is required", i)
		}
		role := models.AgentRoleType(e.Role)
		if !role.Valid() {
			return fmt.Errorf("roster agent %q: unknown role %q", e.Name, e.Role)
		}
		switch role {
		case models.RoleHumanPaired:
			if e.HumanID == "" || e.ContactChannel == "" {
				return fmt.Errorf("roster agent %q: human_id and contact_channel are required for paired agents", e.Name)
			}
		case models.RoleHumanShadow:
			if e.HumanID == "" {
				return fmt.Errorf("roster agent %q: human_id is required for shadow agents", e.Name)
			}
			if len(e.Permissions) == 0 {
				return fmt.Errorf("roster agent %q: permissions are required for shadow agents", e.Name)
			}
		}
	}
	return nil
}

// capabilityKeywords maps description keywords to inferred capabilities.
var capabilityKeywords = map[string]string{
	"research": "research",
	"search":   "research",
	"write":    "writing",
	"writing":  "writing",
	"document": "writing",
	"code":     "coding",
	"coding":   "coding",
	"program":  "coding",
	"develop":  "coding",
	"test":     "testing",
	"review":   "review",
	"analyze":  "analysis",
	"analysis": "analysis",
	"data":     "analysis",
	"plan":     "planning",
	"planning": "planning",
	"deploy":   "deploys",
	"monitor":  "monitoring",
}

// InferCapabilities derives capabilities from a free-text description.
// Returns a general-purpose default when nothing matches.
func InferCapabilities(description string) []string {
	lower := strings.ToLower(description)
	seen := make(map[string]bool)
	var caps []string
	for keyword, capability := range capabilityKeywords {
		if strings.Contains(lower, keyword) && !seen[capability] {
			seen[capability] = true
			caps = append(caps, capability)
		}
	}
	if len(caps) == 0 {
		return []string{"general"}
	}
	sort.Strings(caps)
	return caps
}
