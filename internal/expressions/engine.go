package expressions

import "context"

// Engine evaluates expressions against a graph execution scope.
// Three implementations: CEL (predicates), Expr (logic), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
