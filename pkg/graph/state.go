package graph

import (
	"github.com/aloecraft/aloegraph/internal/expressions"
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// End is the terminal edge target. An edge targeting End finishes the run.
const End = "__END__"

// State is the mutable record threaded through every node call. Vars is the
// author-owned payload; the remaining fields are control fields managed by
// the engine. A State is exclusively owned by one Invoke at a time; the
// engine mutates it in place and returns it.
type State struct {
	// RunID identifies the run. Assigned on the first fresh Invoke if empty.
	RunID string `json:"run_id,omitempty"`

	// Vars is the author-owned payload.
	Vars map[string]any `json:"vars"`

	// CurrentEdge is set by node bodies to name the edge they wish to take.
	CurrentEdge string `json:"current_edge,omitempty"`

	// PendingInterrupt is non-empty when execution previously suspended;
	// it records the edge name to resume from.
	PendingInterrupt string `json:"pending_interrupt,omitempty"`

	// PendingResume names the suspended child route to re-enter on the
	// next invocation of a router node.
	PendingResume string `json:"pending_resume,omitempty"`

	// SelectedRoute is the child route chosen by a router's decision step,
	// valid only while under that router.
	SelectedRoute string `json:"selected_route,omitempty"`

	// ErrorMessage holds the last failure text. Cleared at the start of
	// each fresh top-level invocation.
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryHint holds completion-check guidance for the next attempt.
	RetryHint string `json:"retry_hint,omitempty"`

	// Reply holds a direct reply produced by a router decision that chose
	// not to delegate.
	Reply string `json:"reply,omitempty"`

	// Status is the run lifecycle status.
	Status schema.RunStatus `json:"status,omitempty"`

	// Steps counts node dispatches across the lifetime of the run.
	Steps int `json:"steps,omitempty"`

	// Visited records the dispatch order of visited nodes, for debugging.
	Visited []string `json:"visited,omitempty"`

	// RouteResumePoints maps a suspended route name to the interrupt edge
	// recorded inside that route, so resume re-enters the child at its own
	// suspension point.
	RouteResumePoints map[string]string `json:"route_resume_points,omitempty"`
}

// NewState creates a fresh state with the given payload. A nil vars map is
// replaced with an empty one.
func NewState(vars map[string]any) *State {
	if vars == nil {
		vars = map[string]any{}
	}
	return &State{Vars: vars, Status: schema.RunStatusPending}
}

// Suspended reports whether the state represents a paused run awaiting resume.
func (s *State) Suspended() bool {
	return s.PendingInterrupt != ""
}

// Terminal reports whether the run concluded (completed or failed).
func (s *State) Terminal() bool {
	return s.Status.Terminal()
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	cp := *s
	cp.Vars = deepCopyVars(s.Vars)
	cp.Visited = append([]string(nil), s.Visited...)
	if s.RouteResumePoints != nil {
		cp.RouteResumePoints = make(map[string]string, len(s.RouteResumePoints))
		for k, v := range s.RouteResumePoints {
			cp.RouteResumePoints[k] = v
		}
	}
	return &cp
}

// rememberRouteResume records the child interrupt edge for a suspended route.
func (s *State) rememberRouteResume(route, interruptEdge string) {
	if s.RouteResumePoints == nil {
		s.RouteResumePoints = make(map[string]string)
	}
	s.RouteResumePoints[route] = interruptEdge
}

// takeRouteResume removes and returns the recorded interrupt edge for a route.
func (s *State) takeRouteResume(route string) (string, bool) {
	edge, ok := s.RouteResumePoints[route]
	if ok {
		delete(s.RouteResumePoints, route)
	}
	return edge, ok
}

// stateScope builds the expression evaluation scope for a state.
// Namespaces: vars (payload), control (control fields), run (run metadata).
func stateScope(s *State, graph string) map[string]any {
	control := map[string]any{
		"current_edge":      s.CurrentEdge,
		"pending_interrupt": s.PendingInterrupt,
		"pending_resume":    s.PendingResume,
		"selected_route":    s.SelectedRoute,
		"error_message":     s.ErrorMessage,
		"retry_hint":        s.RetryHint,
	}
	run := map[string]any{
		"run_id": s.RunID,
		"graph":  graph,
		"step":   s.Steps,
		"status": string(s.Status),
	}
	return expressions.NewScope(s.Vars, control, run)
}

func deepCopyVars(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyValue(v)
	}
	return cp
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyVars(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return v
	}
}
