package schema

import "time"

// Trace event type constants emitted during graph execution.
const (
	EventRunStarted   = "run_started"
	EventRunResumed   = "run_resumed"
	EventRunSuspended = "run_suspended"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventNodeEntered       = "node_entered"
	EventNodeFailed        = "node_failed"
	EventEdgeTaken         = "edge_taken"
	EventInterruptRaised   = "interrupt_raised"
	EventStepLimitExceeded = "step_limit_exceeded"

	EventCompletionRetry     = "completion_retry"
	EventCompletionSatisfied = "completion_satisfied"

	EventRouteDelegated    = "route_delegated"
	EventRouteResumed      = "route_resumed"
	EventRouteMerged       = "route_merged"
	EventCircuitOpen       = "circuit_open"
	EventCircuitHalfOpen   = "circuit_half_open"
	EventCircuitClosed     = "circuit_closed"
	EventDecisionRequested = "decision_requested"
	EventDecisionResolved  = "decision_resolved"
)

// RunStatus represents the lifecycle state of a graph run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// TraceEvent is a single step-level trace record emitted by an Engine.
// Sinks (logger, journal, streaming hub) receive these as execution proceeds.
type TraceEvent struct {
	RunID     string         `json:"run_id"`
	Graph     string         `json:"graph,omitempty"`
	Node      string         `json:"node,omitempty"`
	Edge      string         `json:"edge,omitempty"`
	Route     string         `json:"route,omitempty"`
	Type      string         `json:"event_type"`
	Step      int            `json:"step,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
