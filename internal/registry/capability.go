// Package registry owns agent records: roles, hierarchy, status, and
// performance counters. It exposes creation, scaling, and query operations
// for the assignment engine and the supervisor.
package registry

import "sync"

// CapabilityIndex maps symbolic task requirements to the agents advertising
// them. It is a pure lookup structure maintained by the agent registry.
type CapabilityIndex struct {
	// byCapability maps a capability name to the set of agent IDs.
	byCapability map[string]map[string]bool
	// mu protects byCapability.
	mu sync.RWMutex
}

// NewCapabilityIndex creates an empty index.
func NewCapabilityIndex() *CapabilityIndex {
	return &CapabilityIndex{byCapability: make(map[string]map[string]bool)}
}

// Add records that the agent advertises the given capabilities, replacing
// any prior entry for the agent.
func (ci *CapabilityIndex) Add(agentID string, capabilities []string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.removeLocked(agentID)
	for _, c := range capabilities {
		set, ok := ci.byCapability[c]
		if !ok {
			set = make(map[string]bool)
			ci.byCapability[c] = set
		}
		set[agentID] = true
	}
}

// Remove drops the agent from every capability it was indexed under.
func (ci *CapabilityIndex) Remove(agentID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.removeLocked(agentID)
}

func (ci *CapabilityIndex) removeLocked(agentID string) {
	for c, set := range ci.byCapability {
		delete(set, agentID)
		if len(set) == 0 {
			delete(ci.byCapability, c)
		}
	}
}

// AgentsFor returns the IDs of agents advertising the capability.
func (ci *CapabilityIndex) AgentsFor(capability string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	set := ci.byCapability[capability]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// AgentsForAll returns the IDs of agents advertising every listed
// capability. An empty requirement matches no particular set, so callers
// should treat it as "all agents" and skip the index.
func (ci *CapabilityIndex) AgentsForAll(capabilities []string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	if len(capabilities) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, c := range capabilities {
		for id := range ci.byCapability[c] {
			counts[id]++
		}
	}
	var out []string
	for id, n := range counts {
		if n == len(capabilities) {
			out = append(out, id)
		}
	}
	return out
}

// Capabilities returns the set of capabilities with at least one agent.
func (ci *CapabilityIndex) Capabilities() []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	out := make([]string, 0, len(ci.byCapability))
	for c := range ci.byCapability {
		out = append(out, c)
	}
	return out
}
