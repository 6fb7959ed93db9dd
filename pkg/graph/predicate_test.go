package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

func TestCELPredicate(t *testing.T) {
	pred := CELPredicate(`vars.score > 3 && control.retry_hint == ""`)

	st := NewState(map[string]any{"score": int64(5)})
	ok, err := pred(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, ok)

	st.RetryHint = "try again"
	ok, err = pred(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELPredicate_NonBoolResult(t *testing.T) {
	pred := CELPredicate(`vars.score + 1`)

	_, err := pred(context.Background(), NewState(map[string]any{"score": int64(1)}))
	require.Error(t, err)

	var aloeErr *schema.AloeError
	require.ErrorAs(t, err, &aloeErr)
	assert.Equal(t, schema.ErrCodeExpression, aloeErr.Code)
}

func TestExprPredicate(t *testing.T) {
	pred := ExprPredicate(`len(vars.drafts) >= 2`)

	st := NewState(map[string]any{"drafts": []any{"a", "b"}})
	ok, err := pred(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, ok)

	st = NewState(map[string]any{"drafts": []any{"a"}})
	ok, err = pred(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELCompletion_InterpolatesHint(t *testing.T) {
	check := CELCompletion(`vars.approved == true`, "draft for ${{vars.topic}} needs approval")

	st := NewState(map[string]any{"approved": false, "topic": "refunds"})
	ok, hint, err := check(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "draft for refunds needs approval", hint)

	st.Vars["approved"] = true
	ok, hint, err = check(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, hint)
}

func TestExprCompletion(t *testing.T) {
	check := ExprCompletion(`vars.word_count >= 100`, "too short")

	ok, hint, err := check(context.Background(), NewState(map[string]any{"word_count": 42}))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "too short", hint)

	ok, _, err = check(context.Background(), NewState(map[string]any{"word_count": 150}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalJQVars(t *testing.T) {
	out, err := evalJQVars(context.Background(), `{question: .vars.message}`,
		map[string]any{"vars": map[string]any{"message": "hi", "extra": 1}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"question": "hi"}, out)
}

func TestEvalJQVars_RejectsNonObject(t *testing.T) {
	_, err := evalJQVars(context.Background(), `.vars.message`,
		map[string]any{"vars": map[string]any{"message": "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must produce an object")
}

func TestEvalJQVars_NullBecomesEmpty(t *testing.T) {
	out, err := evalJQVars(context.Background(), `.vars.missing`,
		map[string]any{"vars": map[string]any{}})
	require.NoError(t, err)
	assert.Empty(t, out)
}
