package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_BasicLogic(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "1 + 2 * 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestExpr_ScopeAccess(t *testing.T) {
	e := NewExprEngine()

	data := map[string]any{
		"vars": map[string]any{
			"drafts":   []any{"a", "b", "c"},
			"approved": false,
		},
	}

	t.Run("len over vars array", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `len(vars.drafts) >= 3`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("nil coalescing for missing field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `vars.missing ?? "fallback"`, data)
		require.NoError(t, err)
		assert.Equal(t, "fallback", out)
	})

	t.Run("ternary on boolean field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `vars.approved ? "done" : "retry"`, data)
		require.NoError(t, err)
		assert.Equal(t, "retry", out)
	})
}

func TestExpr_ArrayOperations(t *testing.T) {
	e := NewExprEngine()

	data := map[string]any{
		"vars": map[string]any{
			"scores": []any{2, 5, 8},
		},
	}

	out, err := e.Evaluate(context.Background(), `all(vars.scores, # > 1)`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)

	var aloeErr *schema.AloeError
	require.ErrorAs(t, err, &aloeErr)
	assert.Equal(t, schema.ErrCodeValidation, aloeErr.Code)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "1 +", nil)
	require.Error(t, err)

	var aloeErr *schema.AloeError
	require.ErrorAs(t, err, &aloeErr)
	assert.Equal(t, schema.ErrCodeValidation, aloeErr.Code)
}

func TestExpr_CacheReuse(t *testing.T) {
	e := NewExprEngine()

	expression := `vars.n + 1`
	_, err := e.Evaluate(context.Background(), expression,
		map[string]any{"vars": map[string]any{"n": 1}})
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache[expression]
	e.mu.RUnlock()
	assert.True(t, cached)
}
