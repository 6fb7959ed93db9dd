package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/aloecraft/aloegraph/internal/expressions"
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// Predicate gates a transition or a route. All predicates on an edge must
// evaluate true for the edge to be eligible.
type Predicate func(ctx context.Context, st *State) (bool, error)

// CompletionCheck evaluates whether a node's work is complete. On ok=false
// the returned hint is stored in State.RetryHint and the node body is
// re-invoked, up to the edge's retry budget.
type CompletionCheck func(ctx context.Context, st *State) (ok bool, hint string, err error)

// Shared expression engines. Predicates built from expression strings share
// one compiled-program cache per language.
var (
	engineOnce sync.Once
	celEngine  *expressions.CELEngine
	celInitErr error
	exprEngine *expressions.ExprEngine
	jqEngine   *expressions.GoJQEngine
)

func sharedEngines() (*expressions.CELEngine, *expressions.ExprEngine, *expressions.GoJQEngine, error) {
	engineOnce.Do(func() {
		celEngine, celInitErr = expressions.NewCELEngine()
		exprEngine = expressions.NewExprEngine()
		jqEngine = expressions.NewGoJQEngine()
	})
	return celEngine, exprEngine, jqEngine, celInitErr
}

// CELPredicate builds a predicate from a CEL expression over the state scope,
// e.g. `vars.score > 3 && control.retry_hint == ""`.
func CELPredicate(expression string) Predicate {
	return func(ctx context.Context, st *State) (bool, error) {
		cel, _, _, err := sharedEngines()
		if err != nil {
			return false, schema.NewError(schema.ErrCodeExpression, "CEL engine unavailable").WithCause(err)
		}
		out, err := cel.Evaluate(ctx, expression, stateScope(st, ""))
		if err != nil {
			return false, err
		}
		return truthy(out, expression)
	}
}

// ExprPredicate builds a predicate from an expr-lang expression over the
// state scope, e.g. `len(vars.drafts) >= 3`.
func ExprPredicate(expression string) Predicate {
	return func(ctx context.Context, st *State) (bool, error) {
		_, ex, _, err := sharedEngines()
		if err != nil {
			return false, err
		}
		out, err := ex.Evaluate(ctx, expression, stateScope(st, ""))
		if err != nil {
			return false, err
		}
		return truthy(out, expression)
	}
}

// CELCompletion builds a completion check from a CEL expression. The hint is
// interpolated against the state scope when the check fails.
func CELCompletion(expression, hint string) CompletionCheck {
	return func(ctx context.Context, st *State) (bool, string, error) {
		cel, _, _, err := sharedEngines()
		if err != nil {
			return false, "", schema.NewError(schema.ErrCodeExpression, "CEL engine unavailable").WithCause(err)
		}
		scope := stateScope(st, "")
		out, err := cel.Evaluate(ctx, expression, scope)
		if err != nil {
			return false, "", err
		}
		ok, err := truthy(out, expression)
		if err != nil || ok {
			return ok, "", err
		}
		resolved, err := expressions.Interpolate(hint, scope)
		if err != nil {
			return false, hint, nil
		}
		return false, resolved, nil
	}
}

// ExprCompletion builds a completion check from an expr-lang expression.
func ExprCompletion(expression, hint string) CompletionCheck {
	return func(ctx context.Context, st *State) (bool, string, error) {
		_, ex, _, err := sharedEngines()
		if err != nil {
			return false, "", err
		}
		scope := stateScope(st, "")
		out, err := ex.Evaluate(ctx, expression, scope)
		if err != nil {
			return false, "", err
		}
		ok, err := truthy(out, expression)
		if err != nil || ok {
			return ok, "", err
		}
		resolved, err := expressions.Interpolate(hint, scope)
		if err != nil {
			return false, hint, nil
		}
		return false, resolved, nil
	}
}

// evalJQVars evaluates a jq expression against the given input document and
// requires an object result.
func evalJQVars(ctx context.Context, expression string, input map[string]any) (map[string]any, error) {
	_, _, jq, err := sharedEngines()
	if err != nil {
		return nil, err
	}
	out, err := jq.Evaluate(ctx, expression, input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"jq expression %q must produce an object, got %T", expression, out)
	}
	return obj, nil
}

// truthy coerces an expression result to bool.
func truthy(v any, expression string) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"expression %q must produce a bool, got %s", expression, fmt.Sprintf("%T", v))
	}
	return b, nil
}
