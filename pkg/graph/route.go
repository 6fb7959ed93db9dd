package graph

import (
	"context"

	"github.com/aloecraft/aloegraph/internal/expressions"
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// Route is a named child graph registered under a Router. The router queries
// availability and descriptions for the decision step, projects parent state
// into a child state before delegation, and merges child results back.
//
// MergeState is called both when the child completes and when it suspends, so
// child progress survives in the parent across a suspension; ProjectState
// re-derives the child state from the parent on resume.
type Route interface {
	Name() string

	// Describe returns a human-readable summary for the decision step.
	Describe(ctx context.Context, parent *State) (string, error)

	// IsAvailable reports whether the route can be offered for the given
	// parent state.
	IsAvailable(ctx context.Context, parent *State) (bool, error)

	// ProjectState constructs the child's initial state from parent context.
	ProjectState(ctx context.Context, parent *State) (*State, error)

	// MergeState folds child results back into the parent.
	MergeState(ctx context.Context, parent, child *State) error

	// Registry returns the child graph's registry.
	Registry() *Registry
}

// GraphRoute is the standard Route implementation over a Registry, with
// optional expression-driven availability, projection, and merge.
type GraphRoute struct {
	name         string
	description  string
	registry     *Registry
	availability Predicate
	projectExpr  string
	mergeExpr    string
}

// RouteOption configures a GraphRoute.
type RouteOption func(*GraphRoute)

// WithAvailability gates the route on a predicate over the parent state.
func WithAvailability(p Predicate) RouteOption {
	return func(gr *GraphRoute) { gr.availability = p }
}

// WithProjection sets a jq expression computing the child vars from the
// parent scope, e.g. `{question: .vars.message, topic: .vars.topic}`.
// Without it the child receives a deep copy of the parent vars.
func WithProjection(jqExpr string) RouteOption {
	return func(gr *GraphRoute) { gr.projectExpr = jqExpr }
}

// WithMerge sets a jq expression computing the merged parent vars from
// `{vars: parentVars, route: childVars}`, e.g. `.vars * {answer: .route.answer}`.
// Without it the child vars are merged key-by-key over the parent vars.
func WithMerge(jqExpr string) RouteOption {
	return func(gr *GraphRoute) { gr.mergeExpr = jqExpr }
}

// NewGraphRoute creates a route over a child registry. The description may
// reference parent state via ${{...}} interpolation.
func NewGraphRoute(name, description string, reg *Registry, opts ...RouteOption) *GraphRoute {
	gr := &GraphRoute{
		name:        name,
		description: description,
		registry:    reg,
	}
	for _, opt := range opts {
		opt(gr)
	}
	return gr
}

// Name returns the route name.
func (gr *GraphRoute) Name() string { return gr.name }

// Registry returns the child registry.
func (gr *GraphRoute) Registry() *Registry { return gr.registry }

// Describe interpolates the route description against the parent scope.
func (gr *GraphRoute) Describe(ctx context.Context, parent *State) (string, error) {
	return expressions.Interpolate(gr.description, stateScope(parent, gr.name))
}

// IsAvailable evaluates the availability predicate, defaulting to true.
func (gr *GraphRoute) IsAvailable(ctx context.Context, parent *State) (bool, error) {
	if gr.availability == nil {
		return true, nil
	}
	return gr.availability(ctx, parent)
}

// ProjectState builds the child's initial state. The child run ID is derived
// from the parent's so resumes re-enter the same child run.
func (gr *GraphRoute) ProjectState(ctx context.Context, parent *State) (*State, error) {
	var vars map[string]any
	if gr.projectExpr == "" {
		vars = deepCopyVars(parent.Vars)
	} else {
		projected, err := evalJQVars(ctx, gr.projectExpr, map[string]any{"vars": parent.Vars})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"route %q: state projection failed: %s", gr.name, err.Error()).WithCause(err)
		}
		vars = projected
	}

	child := NewState(vars)
	child.RunID = parent.RunID + "/" + gr.name
	return child, nil
}

// MergeState folds the child vars back into the parent vars.
func (gr *GraphRoute) MergeState(ctx context.Context, parent, child *State) error {
	if gr.mergeExpr == "" {
		for k, v := range child.Vars {
			parent.Vars[k] = deepCopyValue(v)
		}
		return nil
	}

	merged, err := evalJQVars(ctx, gr.mergeExpr, map[string]any{
		"vars":  parent.Vars,
		"route": child.Vars,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExpression,
			"route %q: state merge failed: %s", gr.name, err.Error()).WithCause(err)
	}
	parent.Vars = merged
	return nil
}

var _ Route = (*GraphRoute)(nil)
