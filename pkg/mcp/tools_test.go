package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aloecraft/aloegraph/internal/journal"
	"github.com/aloecraft/aloegraph/pkg/graph"
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// --- Fixtures ---

// askEngine compiles a graph that suspends until vars carries "answer".
func askEngine(t *testing.T) *graph.Engine {
	t.Helper()
	r := graph.NewRegistry("ask")
	require.NoError(t, r.AddNode("ask", func(ctx context.Context, st *graph.State) error {
		answer, ok := st.Vars["answer"].(string)
		if !ok {
			st.CurrentEdge = "wait"
			return nil
		}
		st.Vars["result"] = "got: " + answer
		st.CurrentEdge = "done"
		return nil
	}, graph.WithEntry()))
	require.NoError(t, r.AddEdge("ask", graph.EdgeDefinition{Name: "wait", Target: "ask", Interrupt: true}))
	require.NoError(t, r.AddEdge("ask", graph.EdgeDefinition{Name: "done", Target: graph.End}))
	_, err := r.Compile()
	require.NoError(t, err)
	return graph.NewEngine(r)
}

func echoRouter(t *testing.T) *graph.Router {
	t.Helper()
	child := graph.NewRegistry("billing")
	require.NoError(t, child.AddNode("answer", func(ctx context.Context, st *graph.State) error {
		st.Vars["answer"] = "done"
		st.CurrentEdge = graph.End
		return nil
	}, graph.WithEntry()))
	require.NoError(t, child.AddEdge("answer", graph.EdgeDefinition{Target: graph.End}))

	decider := graph.RouteDeciderFunc(func(ctx context.Context, req graph.DecisionRequest) (graph.RouteDecision, error) {
		return graph.RouteDecision{Route: "billing", ShouldRoute: true}, nil
	})
	router := graph.NewRouter("helpdesk", decider)
	router.AddRoute(graph.NewGraphRoute("billing", "Billing questions", child))
	router.AddRoute(graph.NewGraphRoute("refunds", "Refund requests", child,
		graph.WithAvailability(func(ctx context.Context, st *graph.State) (bool, error) {
			return false, nil
		})))
	require.NoError(t, router.Compile())
	return router
}

func newTestServer(t *testing.T, j journal.Journal) *GraphServer {
	t.Helper()
	s := NewGraphServer(GraphServerDeps{Journal: j})
	require.NoError(t, s.RegisterEngine(askEngine(t)))
	require.NoError(t, s.RegisterRouter(echoRouter(t)))
	return s
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- Tests ---

func TestRegisterEngine_RequiresCompile(t *testing.T) {
	s := NewGraphServer(GraphServerDeps{})
	r := graph.NewRegistry("raw")
	require.NoError(t, r.AddNode("a", func(ctx context.Context, st *graph.State) error { return nil },
		graph.WithEntry()))
	require.Error(t, s.RegisterEngine(graph.NewEngine(r)))
}

func TestInvokeTool_SuspendsAndHoldsRun(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleInvoke(context.Background(),
		buildRequest("aloegraph.invoke", map[string]any{"graph": "ask"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "ask", out["graph"])
	assert.Equal(t, string(schema.RunStatusSuspended), out["status"])
	assert.Equal(t, "wait", out["pending_interrupt"])
	require.NotEmpty(t, out["run_id"])

	assert.Equal(t, 1, s.Runs().Len(), "suspended run is held for resume")
}

func TestInvokeTool_UnknownGraph(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleInvoke(context.Background(),
		buildRequest("aloegraph.invoke", map[string]any{"graph": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestInvokeTool_MissingGraph(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleInvoke(context.Background(),
		buildRequest("aloegraph.invoke", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestResumeTool_CompletesHeldRun(t *testing.T) {
	s := newTestServer(t, nil)

	invoked, err := s.handleInvoke(context.Background(),
		buildRequest("aloegraph.invoke", map[string]any{"graph": "ask"}))
	require.NoError(t, err)
	var suspended map[string]any
	unmarshalResult(t, invoked, &suspended)
	runID := suspended["run_id"].(string)

	resumed, err := s.handleResume(context.Background(),
		buildRequest("aloegraph.resume", map[string]any{
			"run_id": runID,
			"vars":   map[string]any{"answer": "blue"},
		}))
	require.NoError(t, err)
	require.False(t, resumed.IsError)

	var out map[string]any
	unmarshalResult(t, resumed, &out)
	assert.Equal(t, string(schema.RunStatusCompleted), out["status"])
	assert.Equal(t, "got: blue", out["vars"].(map[string]any)["result"])
	assert.Equal(t, 0, s.Runs().Len(), "completed run is released")
}

func TestResumeTool_UnknownRun(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleResume(context.Background(),
		buildRequest("aloegraph.resume", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRouterThroughInvokeTool(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleInvoke(context.Background(),
		buildRequest("aloegraph.invoke", map[string]any{"graph": "helpdesk"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, string(schema.RunStatusCompleted), out["status"])
	assert.Equal(t, "done", out["vars"].(map[string]any)["answer"])
}

func TestRoutesTool(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleRoutes(context.Background(),
		buildRequest("aloegraph.routes", map[string]any{"router": "helpdesk"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Router string `json:"router"`
		Routes []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
		} `json:"routes"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "helpdesk", out.Router)
	require.Len(t, out.Routes, 2)
	assert.True(t, out.Routes[0].Available)
	assert.False(t, out.Routes[1].Available, "availability predicate is reflected")
}

func TestRoutesTool_UnknownRouter(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleRoutes(context.Background(),
		buildRequest("aloegraph.routes", map[string]any{"router": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPlanTool_JSON(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handlePlan(context.Background(),
		buildRequest("aloegraph.plan", map[string]any{"graph": "ask"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Graph string           `json:"graph"`
		Entry string           `json:"entry"`
		Nodes []graph.PlanNode `json:"nodes"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "ask", out.Graph)
	assert.Equal(t, "ask", out.Entry)
	require.Len(t, out.Nodes, 1)
	assert.Len(t, out.Nodes[0].Edges, 2)
}

func TestPlanTool_Mermaid(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handlePlan(context.Background(),
		buildRequest("aloegraph.plan", map[string]any{"graph": "ask", "format": "mermaid"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "ask -.->|wait| ask")
}

func TestPlanTool_BadFormat(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handlePlan(context.Background(),
		buildRequest("aloegraph.plan", map[string]any{"graph": "ask", "format": "png"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTraceTool_WithoutJournal(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleTrace(context.Background(),
		buildRequest("aloegraph.trace", map[string]any{"run_id": "r1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not configured")
}

// mockJournal returns canned trace rows.
type mockJournal struct {
	journal.Journal
	events []schema.TraceEvent
	run    *journal.RunRecord
}

func (m *mockJournal) ListTrace(_ context.Context, _ string, filter journal.TraceFilter) ([]schema.TraceEvent, error) {
	if len(filter.EventTypes) == 0 {
		return m.events, nil
	}
	var out []schema.TraceEvent
	for _, e := range m.events {
		for _, et := range filter.EventTypes {
			if e.Type == et {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (m *mockJournal) GetRun(_ context.Context, _ string) (*journal.RunRecord, error) {
	if m.run == nil {
		return nil, schema.NewError(schema.ErrCodeJournal, "not found")
	}
	return m.run, nil
}

func TestTraceTool(t *testing.T) {
	j := &mockJournal{
		events: []schema.TraceEvent{
			{Type: schema.EventRunStarted, RunID: "r1"},
			{Type: schema.EventNodeEntered, RunID: "r1", Node: "ask"},
		},
		run: &journal.RunRecord{RunID: "r1", Graph: "ask", Status: schema.RunStatusSuspended},
	}
	s := newTestServer(t, j)

	result, err := s.handleTrace(context.Background(),
		buildRequest("aloegraph.trace", map[string]any{"run_id": "r1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		RunID  string              `json:"run_id"`
		Events []schema.TraceEvent `json:"events"`
		Run    *journal.RunRecord  `json:"run"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "r1", out.RunID)
	assert.Len(t, out.Events, 2)
	require.NotNil(t, out.Run)
	assert.Equal(t, "ask", out.Run.Graph)
}

func TestTraceTool_EventTypeFilter(t *testing.T) {
	j := &mockJournal{
		events: []schema.TraceEvent{
			{Type: schema.EventRunStarted, RunID: "r1"},
			{Type: schema.EventNodeEntered, RunID: "r1"},
		},
	}
	s := newTestServer(t, j)

	result, err := s.handleTrace(context.Background(),
		buildRequest("aloegraph.trace", map[string]any{
			"run_id":     "r1",
			"event_type": schema.EventNodeEntered,
		}))
	require.NoError(t, err)

	var out struct {
		Events []schema.TraceEvent `json:"events"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Events, 1)
	assert.Equal(t, schema.EventNodeEntered, out.Events[0].Type)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 100, parseLimit("", 100))
	assert.Equal(t, 25, parseLimit("25", 100))
	assert.Equal(t, 100, parseLimit("abc", 100))
	assert.Equal(t, 100, parseLimit("-3", 100))
}
