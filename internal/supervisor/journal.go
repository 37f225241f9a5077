package supervisor

import (
	"sync"
	"time"

	"github.com/overseerhq/overseer/pkg/models"
)

// ReportEntry is one journaled observation: a tick summary, a reflection
// note, or an anomaly.
type ReportEntry struct {
	// At is when the entry was recorded.
	At time.Time `json:"at"`
	// State is the supervisor state at the time.
	State models.SupervisorState `json:"state"`
	// Kind groups entries: tick, reflection, anomaly.
	Kind string `json:"kind"`
	// Message is the human-readable note.
	Message string `json:"message"`
}

// Journal is a bounded ring of report entries. Oldest entries are dropped
// once the cap is reached.
type Journal struct {
	// mu protects entries.
	mu      sync.RWMutex
	entries []ReportEntry
	cap     int
}

// NewJournal creates a journal retaining at most cap entries.
func NewJournal(cap int) *Journal {
	if cap <= 0 {
		cap = 200
	}
	return &Journal{cap: cap}
}

// Add appends an entry, evicting the oldest when full.
func (j *Journal) Add(e ReportEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	if len(j.entries) > j.cap {
		j.entries = j.entries[len(j.entries)-j.cap:]
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (j *Journal) Entries() []ReportEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]ReportEntry(nil), j.entries...)
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
