package journal

import (
	"context"
	"log/slog"

	"github.com/aloecraft/aloegraph/internal/streaming"
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// Sink drains a trace hub subscription into a Journal. It runs until the
// context is cancelled; append failures are logged and dropped so a broken
// journal never stalls execution.
type Sink struct {
	journal Journal
	hub     streaming.TraceHub
	logger  *slog.Logger
}

// NewSink creates a sink writing hub events to the journal.
func NewSink(j Journal, hub streaming.TraceHub, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{journal: j, hub: hub, logger: logger}
}

// Run subscribes to the hub and persists every trace event until ctx is done.
// Blocks; callers typically run it in a goroutine.
func (s *Sink) Run(ctx context.Context) error {
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.TraceFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.journal.AppendTrace(ctx, event); err != nil {
				s.logger.Warn("journal append failed",
					"run_id", event.RunID,
					"event_type", event.Type,
					"error", err)
			}
			if rec, ok := runRecordFor(event); ok {
				if err := s.journal.RecordRun(ctx, rec); err != nil {
					s.logger.Warn("journal run record failed",
						"run_id", event.RunID,
						"status", rec.Status,
						"error", err)
				}
			}
		}
	}
}

// runRecordFor maps a lifecycle trace event to a run-row upsert. Non-lifecycle
// events (node entered, edge taken, ...) do not touch the runs table.
func runRecordFor(event schema.TraceEvent) (*RunRecord, bool) {
	var status schema.RunStatus
	switch event.Type {
	case schema.EventRunStarted, schema.EventRunResumed:
		status = schema.RunStatusRunning
	case schema.EventRunSuspended:
		status = schema.RunStatusSuspended
	case schema.EventRunCompleted:
		status = schema.RunStatusCompleted
	case schema.EventRunFailed:
		status = schema.RunStatusFailed
	default:
		return nil, false
	}

	rec := &RunRecord{
		RunID:     event.RunID,
		Graph:     event.Graph,
		Status:    status,
		Steps:     event.Step,
		StartedAt: event.Timestamp,
		UpdatedAt: event.Timestamp,
	}
	if msg, ok := event.Detail["error"].(string); ok {
		rec.Error = msg
	}
	if status.Terminal() {
		done := event.Timestamp
		rec.CompletedAt = &done
	}
	return rec, true
}
