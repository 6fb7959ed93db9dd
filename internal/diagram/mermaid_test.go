package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaid_Topology(t *testing.T) {
	model, err := Build(compiledPlan(t), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% support")
	assert.Contains(t, out, `intake(["intake"])`)
	assert.Contains(t, out, `resolve["resolve"]`)
	assert.Contains(t, out, `__END__(("END"))`)
	assert.Contains(t, out, "intake -->|route| resolve")
	assert.Contains(t, out, "resolve -.->|wait| resolve", "interrupt edges are dashed")
	assert.Contains(t, out, "resolve -->|done (guarded)| __END__")
	assert.NotContains(t, out, "class ", "no status classes without a run state")
}

func TestRenderMermaid_StatusClasses(t *testing.T) {
	st := newSuspendedState()

	model, err := Build(compiledPlan(t), st)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "classDef visited")
	assert.Contains(t, out, "class intake visited")
	assert.Contains(t, out, "class resolve suspended")
}

func TestRenderMermaid_SanitizesIDs(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{{ID: "fetch-data.step", Label: "fetch", Kind: NodeKindNode}},
		Edges: []Edge{{From: "fetch-data.step", To: "fetch-data.step"}},
	}

	out := RenderMermaid(model)
	assert.Contains(t, out, "fetch_data_step")
	assert.NotContains(t, out, "fetch-data.step[")
}
