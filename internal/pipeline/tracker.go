package pipeline

import (
	"sort"
	"sync"
)

// Tracker keeps recent runs in memory for the ops endpoints. Bounded;
// oldest runs drop first.
type Tracker struct {
	mu    sync.RWMutex
	runs  []*Run
	limit int
}

// NewTracker creates a Tracker retaining up to limit runs.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 100
	}
	return &Tracker{limit: limit}
}

func (t *Tracker) Add(run *Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs = append(t.runs, run)
	if len(t.runs) > t.limit {
		t.runs = t.runs[len(t.runs)-t.limit:]
	}
}

// Latest returns the most recently started run, or nil.
func (t *Tracker) Latest() *Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.runs) == 0 {
		return nil
	}
	return t.runs[len(t.runs)-1]
}

// Snapshots returns recent runs newest first.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(t.runs))
	for _, run := range t.runs {
		snaps = append(snaps, run.Snapshot())
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
	return snaps
}
