package mcp

import (
	"sync"
	"time"

	"github.com/aloecraft/aloegraph/pkg/graph"
)

// RunInfo is a snapshot row describing a held run.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Graph     string    `json:"graph"`
	Edge      string    `json:"edge"`
	UpdatedAt time.Time `json:"updated_at"`
}

type runEntry struct {
	graphName string
	state     *graph.State
	updatedAt time.Time
}

// RunTable holds suspended run states keyed by run ID. It is in-process
// only; a server restart loses held runs.
type RunTable struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

// NewRunTable creates an empty RunTable.
func NewRunTable() *RunTable {
	return &RunTable{runs: make(map[string]*runEntry)}
}

// Put stores a suspended run's state, overwriting any previous entry.
func (t *RunTable) Put(graphName string, st *graph.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[st.RunID] = &runEntry{
		graphName: graphName,
		state:     st,
		updatedAt: time.Now().UTC(),
	}
}

// Get returns the held state and its graph name without removing it.
func (t *RunTable) Get(runID string) (string, *graph.State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.runs[runID]
	if !ok {
		return "", nil, false
	}
	return entry.graphName, entry.state, true
}

// Take removes and returns the held state. Resume takes the state so a run
// is never owned by two invocations at once.
func (t *RunTable) Take(runID string) (string, *graph.State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.runs[runID]
	if !ok {
		return "", nil, false
	}
	delete(t.runs, runID)
	return entry.graphName, entry.state, true
}

// List returns a snapshot of all held runs.
func (t *RunTable) List() []RunInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunInfo, 0, len(t.runs))
	for runID, entry := range t.runs {
		out = append(out, RunInfo{
			RunID:     runID,
			Graph:     entry.graphName,
			Edge:      entry.state.PendingInterrupt,
			UpdatedAt: entry.updatedAt,
		})
	}
	return out
}

// Len returns the number of held runs.
func (t *RunTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}
