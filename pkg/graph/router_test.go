package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

func routeTo(name string) RouteDeciderFunc {
	return func(ctx context.Context, req DecisionRequest) (RouteDecision, error) {
		return RouteDecision{Route: name, ShouldRoute: true}, nil
	}
}

// echoRegistry is a one-node child graph that answers the question in vars.
func echoRegistry(t *testing.T, name string) *Registry {
	t.Helper()
	r := NewRegistry(name)
	require.NoError(t, r.AddNode("answer", func(ctx context.Context, st *State) error {
		q, _ := st.Vars["question"].(string)
		st.Vars["answer"] = "resolved: " + q
		st.CurrentEdge = End
		return nil
	}, WithEntry()))
	require.NoError(t, r.AddEdge("answer", EdgeDefinition{Target: End}))
	return r
}

// collectRegistry is a child graph that suspends until vars carries "input".
func collectRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry("collect")
	require.NoError(t, r.AddNode("collect", func(ctx context.Context, st *State) error {
		st.Vars["collect_started"] = true
		input, ok := st.Vars["input"].(string)
		if !ok {
			st.CurrentEdge = "wait"
			return nil
		}
		st.Vars["result"] = "collected: " + input
		st.CurrentEdge = "finish"
		return nil
	}, WithEntry()))
	require.NoError(t, r.AddEdge("collect", EdgeDefinition{Name: "wait", Target: "collect", Interrupt: true}))
	require.NoError(t, r.AddEdge("collect", EdgeDefinition{Name: "finish", Target: End}))
	return r
}

func TestRouter_CompileValidation(t *testing.T) {
	t.Run("missing decider", func(t *testing.T) {
		r := NewRouter("helpdesk", nil)
		r.AddRoute(NewGraphRoute("billing", "Billing questions", echoRegistry(t, "billing")))
		err := r.Compile()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no decider")
	})

	t.Run("missing routes", func(t *testing.T) {
		r := NewRouter("helpdesk", routeTo("billing"))
		err := r.Compile()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no routes")
	})
}

func TestRouter_InvokeRequiresCompile(t *testing.T) {
	r := NewRouter("helpdesk", routeTo("billing"))
	r.AddRoute(NewGraphRoute("billing", "Billing questions", echoRegistry(t, "billing")))

	_, err := r.Invoke(context.Background(), NewState(nil))
	require.Error(t, err)

	var aloeErr *schema.AloeError
	require.ErrorAs(t, err, &aloeErr)
	assert.Equal(t, schema.ErrCodeNotCompiled, aloeErr.Code)
	assert.False(t, r.Compiled())
}

func TestRouter_ReplyWithoutDelegation(t *testing.T) {
	decider := RouteDeciderFunc(func(ctx context.Context, req DecisionRequest) (RouteDecision, error) {
		return RouteDecision{ShouldRoute: false, Reply: "nothing to do here"}, nil
	})
	r := NewRouter("helpdesk", decider)
	r.AddRoute(NewGraphRoute("billing", "Billing questions", echoRegistry(t, "billing")))
	require.NoError(t, r.Compile())

	st, err := r.Invoke(context.Background(), NewState(nil))
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, st.Status)
	assert.Equal(t, "nothing to do here", st.Reply)
	assert.Empty(t, st.SelectedRoute)
}

func TestRouter_DelegatesAndMerges(t *testing.T) {
	sink := &captureSink{}
	r := NewRouter("helpdesk", routeTo("billing"), WithRouterTraceSink(sink))
	r.AddRoute(NewGraphRoute("billing", "Billing questions", echoRegistry(t, "billing")))
	require.NoError(t, r.Compile())
	require.True(t, r.Compiled())

	st, err := r.Invoke(context.Background(), NewState(map[string]any{"question": "why was I charged twice"}))
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, st.Status)
	assert.Equal(t, "resolved: why was I charged twice", st.Vars["answer"])
	assert.Empty(t, st.SelectedRoute, "selection is consumed on completion")
	assert.Empty(t, st.PendingResume)

	types := sink.types()
	assert.Contains(t, types, schema.EventDecisionRequested)
	assert.Contains(t, types, schema.EventDecisionResolved)
	assert.Contains(t, types, schema.EventRouteDelegated)
	assert.Contains(t, types, schema.EventRouteMerged)
}

func TestRouter_DecisionSeesOnlyAvailableRoutes(t *testing.T) {
	var offered []DecisionRoute
	decider := RouteDeciderFunc(func(ctx context.Context, req DecisionRequest) (RouteDecision, error) {
		offered = req.Routes
		return RouteDecision{Route: "billing", ShouldRoute: true}, nil
	})

	never := func(ctx context.Context, st *State) (bool, error) { return false, nil }

	r := NewRouter("helpdesk", decider)
	r.AddRoute(NewGraphRoute("billing", "Questions about ${{vars.topic}}", echoRegistry(t, "billing")))
	r.AddRoute(NewGraphRoute("refunds", "Refund requests", echoRegistry(t, "refunds"),
		WithAvailability(never)))
	require.NoError(t, r.Compile())

	_, err := r.Invoke(context.Background(), NewState(map[string]any{"topic": "invoices"}))
	require.NoError(t, err)

	require.Len(t, offered, 1)
	assert.Equal(t, "billing", offered[0].Name)
	assert.Equal(t, "Questions about invoices", offered[0].Description)
}

func TestRouter_RejectsUnofferedRoute(t *testing.T) {
	r := NewRouter("helpdesk", routeTo("ghost"))
	r.AddRoute(NewGraphRoute("billing", "Billing questions", echoRegistry(t, "billing")))
	require.NoError(t, r.Compile())

	st, err := r.Invoke(context.Background(), NewState(nil))
	require.Error(t, err)

	var aloeErr *schema.AloeError
	require.ErrorAs(t, err, &aloeErr)
	assert.Equal(t, schema.ErrCodeRouteUnavailable, aloeErr.Code)
	assert.Equal(t, "ghost", aloeErr.Details["chosen"])
	assert.Equal(t, schema.RunStatusFailed, st.Status)
}

func TestRouter_ChildSuspendAndResume(t *testing.T) {
	decideCalls := 0
	decider := RouteDeciderFunc(func(ctx context.Context, req DecisionRequest) (RouteDecision, error) {
		decideCalls++
		return RouteDecision{Route: "collect", ShouldRoute: true}, nil
	})

	r := NewRouter("helpdesk", decider)
	r.AddRoute(NewGraphRoute("collect", "Gathers missing details", collectRegistry(t)))
	require.NoError(t, r.Compile())

	st, err := r.Invoke(context.Background(), NewState(nil))
	require.NoError(t, err)

	assert.True(t, st.Suspended())
	assert.Equal(t, "await_input", st.PendingInterrupt)
	assert.Equal(t, "collect", st.PendingResume)
	assert.Equal(t, "wait", st.RouteResumePoints["collect"], "child suspension point is recorded")
	assert.Equal(t, true, st.Vars["collect_started"], "child progress merged on suspension")

	// Caller supplies the input and resumes; the decision step is not re-run.
	st.Vars["input"] = "order 4417"
	st, err = r.Invoke(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, st.Status)
	assert.Equal(t, "collected: order 4417", st.Vars["result"])
	assert.Empty(t, st.PendingResume)
	assert.NotContains(t, st.RouteResumePoints, "collect")
	assert.Equal(t, 1, decideCalls)
}

func TestRouter_ProjectionAndMergeExpressions(t *testing.T) {
	var childSawSecret bool
	child := NewRegistry("lookup")
	require.NoError(t, child.AddNode("lookup", func(ctx context.Context, st *State) error {
		_, childSawSecret = st.Vars["secret"]
		q, _ := st.Vars["question"].(string)
		st.Vars["answer"] = "resolved: " + q
		st.Vars["scratch"] = "internal"
		st.CurrentEdge = End
		return nil
	}, WithEntry()))
	require.NoError(t, child.AddEdge("lookup", EdgeDefinition{Target: End}))

	r := NewRouter("helpdesk", routeTo("lookup"))
	r.AddRoute(NewGraphRoute("lookup", "Answers questions", child,
		WithProjection(`{question: .vars.message}`),
		WithMerge(`.vars * {answer: .route.answer}`)))
	require.NoError(t, r.Compile())

	st, err := r.Invoke(context.Background(), NewState(map[string]any{
		"message": "where is my parcel",
		"secret":  "token",
	}))
	require.NoError(t, err)

	assert.False(t, childSawSecret, "projection narrows what the child sees")
	assert.Equal(t, "resolved: where is my parcel", st.Vars["answer"])
	assert.Equal(t, "token", st.Vars["secret"], "merge keeps unrelated parent vars")
	assert.NotContains(t, st.Vars, "scratch", "merge expression controls what comes back")
}

func TestRouter_BreakerOpensAndWithholdsRoute(t *testing.T) {
	flaky := NewRegistry("flaky")
	require.NoError(t, flaky.AddNode("call", func(ctx context.Context, st *State) error {
		return errors.New("backend down")
	}, WithEntry()))
	require.NoError(t, flaky.AddEdge("call", EdgeDefinition{Target: End}))

	r := NewRouter("helpdesk", routeTo("flaky"),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMax: 1}))
	r.AddRoute(NewGraphRoute("flaky", "Unreliable backend", flaky))
	r.AddRoute(NewGraphRoute("billing", "Billing questions", echoRegistry(t, "billing")))
	require.NoError(t, r.Compile())

	_, err := r.Invoke(context.Background(), NewState(nil))
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, r.breakers.State("flaky"))

	available, err := r.AvailableRoutes(context.Background(), NewState(nil))
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "billing", available[0].Name())

	// The decider still asks for the withheld route, but it is no longer a
	// candidate, so the decision is rejected.
	_, err = r.Invoke(context.Background(), NewState(nil))
	require.Error(t, err)

	var aloeErr *schema.AloeError
	require.ErrorAs(t, err, &aloeErr)
	assert.Equal(t, schema.ErrCodeRouteUnavailable, aloeErr.Code)
}

func TestRouter_MountInParentGraph(t *testing.T) {
	router := NewRouter("helpdesk", routeTo("collect"))
	router.AddRoute(NewGraphRoute("collect", "Gathers missing details", collectRegistry(t)))

	parent := NewRegistry("support")
	require.NoError(t, parent.AddNode("intake", func(ctx context.Context, st *State) error {
		st.Vars["message"] = "need help"
		st.CurrentEdge = "route"
		return nil
	}, WithEntry()))
	require.NoError(t, parent.AddEdge("intake", EdgeDefinition{Name: "route", Target: "helpdesk"}))
	require.NoError(t, router.Mount(parent, "helpdesk", "wrap"))
	require.NoError(t, parent.AddNode("wrap", func(ctx context.Context, st *State) error {
		st.Vars["wrapped"] = true
		st.CurrentEdge = End
		return nil
	}))
	require.NoError(t, parent.AddEdge("wrap", EdgeDefinition{Target: End}))

	require.NoError(t, router.Compile())
	_, err := parent.Compile()
	require.NoError(t, err)

	e := NewEngine(parent)
	st, err := e.Invoke(context.Background(), NewState(nil))
	require.NoError(t, err)

	assert.True(t, st.Suspended())
	assert.Equal(t, "helpdesk_await", st.PendingInterrupt)
	assert.Contains(t, st.RouteResumePoints, "router:helpdesk")
	assert.Equal(t, "wait", st.RouteResumePoints["collect"])

	st.Vars["input"] = "order 4417"
	st, err = e.Invoke(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, st.Status)
	assert.Equal(t, "collected: order 4417", st.Vars["result"])
	assert.Equal(t, true, st.Vars["wrapped"], "parent graph continues past the router")
	assert.Empty(t, st.RouteResumePoints)
}

func TestRouter_AddRouteInvalidatesCompilation(t *testing.T) {
	r := NewRouter("helpdesk", routeTo("billing"))
	r.AddRoute(NewGraphRoute("billing", "Billing questions", echoRegistry(t, "billing")))
	require.NoError(t, r.Compile())
	require.True(t, r.Compiled())

	r.AddRoute(NewGraphRoute("refunds", "Refund requests", echoRegistry(t, "refunds")))
	assert.False(t, r.Compiled())
}
