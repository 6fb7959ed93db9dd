package expressions

import (
	"encoding/json"
)

// Scope namespaces exposed to every expression engine. The graph layer
// builds one scope snapshot per evaluation:
//   - vars:    the author-owned state payload
//   - control: control fields (current_edge, pending_interrupt, ...)
//   - run:     run metadata (run_id, graph, step)
const (
	ScopeVars    = "vars"
	ScopeControl = "control"
	ScopeRun     = "run"
)

// ScopeNamespaces lists the namespaces in resolution order.
var ScopeNamespaces = []string{ScopeVars, ScopeControl, ScopeRun}

// NewScope assembles an evaluation scope from its namespaces.
// All maps are deep-copied so evaluation never observes later state mutation.
func NewScope(vars, control, run map[string]any) map[string]any {
	return map[string]any{
		ScopeVars:    frozenOrEmpty(vars),
		ScopeControl: frozenOrEmpty(control),
		ScopeRun:     frozenOrEmpty(run),
	}
}

func frozenOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return deepCopyMap(m)
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
