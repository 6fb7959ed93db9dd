package journal

import (
	"context"
	"time"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

// RunRecord is the journal's view of a single graph run.
// The journal is an append-only observability log: the engine writes run and
// trace rows as execution proceeds, and diagnostic surfaces read them back.
// Resume never consults the journal; a suspended run lives entirely in the
// state value returned to the caller.
type RunRecord struct {
	RunID       string           `json:"run_id"`
	Graph       string           `json:"graph"`
	Status      schema.RunStatus `json:"status"`
	Steps       int              `json:"steps"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// TraceFilter narrows ListTrace results.
type TraceFilter struct {
	EventTypes []string
	Since      int64 // exclusive lower bound on sequence
	Limit      int
}

// Journal persists run lifecycle records and trace events.
type Journal interface {
	// RecordRun inserts or updates the run row for rec.RunID.
	RecordRun(ctx context.Context, rec *RunRecord) error

	// AppendTrace appends a trace event, assigning the next per-run sequence.
	AppendTrace(ctx context.Context, event schema.TraceEvent) error

	// GetRun returns the run record, or a JOURNAL_ERROR if it does not exist.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns run records ordered newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// ListTrace returns trace events for a run in sequence order.
	ListTrace(ctx context.Context, runID string, filter TraceFilter) ([]schema.TraceEvent, error)

	Close() error
}
