package graph

import (
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// validRunTransitions defines the allowed run status transitions.
var validRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusSuspended, schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusSuspended: {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
}

// transitionStatus validates and applies a run status transition.
func transitionStatus(st *State, to schema.RunStatus) error {
	from := st.Status
	if from == "" {
		from = schema.RunStatusPending
	}
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": st.RunID, "from": string(from), "to": string(to)})
	}
	st.Status = to
	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := validRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// statusEventType maps a run status to the trace event announcing it.
func statusEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusSuspended:
		return schema.EventRunSuspended
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}
