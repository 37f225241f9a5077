package registry

import (
	"sort"
	"testing"
)

func TestCapabilityIndexAddRemove(t *testing.T) {
	idx := NewCapabilityIndex()
	idx.Add("a1", []string{"coding", "testing"})
	idx.Add("a2", []string{"coding"})

	got := idx.AgentsFor("coding")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a1" || got[1] != "a2" {
		t.Errorf("AgentsFor(coding) = %v, want [a1 a2]", got)
	}

	idx.Remove("a1")
	if got := idx.AgentsFor("testing"); len(got) != 0 {
		t.Errorf("AgentsFor(testing) after remove = %v, want empty", got)
	}
	if got := idx.AgentsFor("coding"); len(got) != 1 || got[0] != "a2" {
		t.Errorf("AgentsFor(coding) after remove = %v, want [a2]", got)
	}
}

func TestCapabilityIndexIntersection(t *testing.T) {
	idx := NewCapabilityIndex()
	idx.Add("a1", []string{"coding", "testing", "review"})
	idx.Add("a2", []string{"coding", "review"})
	idx.Add("a3", []string{"writing"})

	got := idx.AgentsForAll([]string{"coding", "review"})
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a1" || got[1] != "a2" {
		t.Errorf("AgentsForAll = %v, want [a1 a2]", got)
	}

	if got := idx.AgentsForAll([]string{"coding", "writing"}); len(got) != 0 {
		t.Errorf("disjoint intersection = %v, want empty", got)
	}
	if got := idx.AgentsForAll(nil); got != nil {
		t.Errorf("empty requirement = %v, want nil", got)
	}
}

func TestCapabilityIndexReAddReplaces(t *testing.T) {
	idx := NewCapabilityIndex()
	idx.Add("a1", []string{"coding"})
	idx.Add("a1", []string{"writing"})

	if got := idx.AgentsFor("coding"); len(got) != 0 {
		t.Errorf("stale capability retained: %v", got)
	}
	if got := idx.AgentsFor("writing"); len(got) != 1 {
		t.Errorf("AgentsFor(writing) = %v, want [a1]", got)
	}
}
