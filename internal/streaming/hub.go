package streaming

import (
	"context"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

// TraceFilter specifies which trace events a subscriber wants to receive.
// Zero-value fields match everything.
type TraceFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	Graph      string   `json:"graph,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// TraceHub provides pub/sub for trace events emitted during graph execution.
// The engine publishes one event per significant step transition; observers
// such as the journal sink, the MCP trace tool, and tests subscribe.
type TraceHub interface {
	Publish(ctx context.Context, event schema.TraceEvent) error
	Subscribe(ctx context.Context, filter TraceFilter) (<-chan schema.TraceEvent, func(), error)
}
