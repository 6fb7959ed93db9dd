package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aloecraft/aloegraph/internal/logging"
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// Router internal graph node and edge names.
const (
	routerNodeDecide = "decide"
	routerNodeInvoke = "invoke_route"
	routerEdgeInvoke = "invoke"
	routerEdgeReply  = "reply"
	routerEdgeAwait  = "await_input"
	routerEdgeDone   = "done"
)

// DecisionRoute is one candidate presented to the decision step.
type DecisionRoute struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DecisionRequest is the input to the routing decision: the current state
// and the available route summaries.
type DecisionRequest struct {
	State  *State
	Routes []DecisionRoute
}

// RouteDecision is the structured result of the routing decision.
// When ShouldRoute is false, Reply is returned to the caller directly and
// no delegation happens.
type RouteDecision struct {
	Route       string `json:"route,omitempty"`
	ShouldRoute bool   `json:"should_route"`
	Reply       string `json:"reply,omitempty"`
}

// RouteDecider chooses a route for a state. The engine only consumes its
// structured result; how it was produced (an LLM call, a classifier, a rule
// table) is the collaborator's business.
type RouteDecider interface {
	Decide(ctx context.Context, req DecisionRequest) (RouteDecision, error)
}

// RouteDeciderFunc adapts a function to the RouteDecider interface.
type RouteDeciderFunc func(ctx context.Context, req DecisionRequest) (RouteDecision, error)

func (f RouteDeciderFunc) Decide(ctx context.Context, req DecisionRequest) (RouteDecision, error) {
	return f(ctx, req)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router and child engine logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithRouterTraceSink adds a trace sink for the router and its children.
func WithRouterTraceSink(sink TraceSink) RouterOption {
	return func(r *Router) {
		if sink != nil {
			r.sinks = append(r.sinks, sink)
		}
	}
}

// WithBreakerConfig overrides the route circuit breaker configuration.
func WithBreakerConfig(cfg BreakerConfig) RouterOption {
	return func(r *Router) { r.breakers = NewBreakerRegistry(cfg) }
}

// WithChildStepLimit sets the step limit used by child route engines.
func WithChildStepLimit(limit int) RouterOption {
	return func(r *Router) { r.childStepLimit = limit }
}

// Router owns a name-to-route registry and delegates execution into a chosen
// child graph. It is itself a two-node graph (decide, invoke_route) run by
// its own engine, and can be mounted in a parent graph as an ordinary node.
type Router struct {
	name    string
	decider RouteDecider

	mu      sync.Mutex
	routes  map[string]Route
	order   []string
	engines map[string]*Engine
	engine  *Engine

	breakers       *BreakerRegistry
	logger         *slog.Logger
	sinks          []TraceSink
	childStepLimit int
}

// NewRouter creates a router with the given decision collaborator.
func NewRouter(name string, decider RouteDecider, opts ...RouterOption) *Router {
	r := &Router{
		name:           name,
		decider:        decider,
		routes:         make(map[string]Route),
		engines:        make(map[string]*Engine),
		breakers:       NewBreakerRegistry(DefaultBreakerConfig()),
		childStepLimit: DefaultStepLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the router name.
func (r *Router) Name() string { return r.name }

// AddRoute registers a child route under its name. Registering a name again
// overwrites the previous route and invalidates the compiled status, forcing
// recompilation.
func (r *Router) AddRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[route.Name()]; !exists {
		r.order = append(r.order, route.Name())
	}
	r.routes[route.Name()] = route
	delete(r.engines, route.Name())
	r.engine = nil
}

// Routes returns all registered routes in registration order.
func (r *Router) Routes() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Route, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.routes[name])
	}
	return out
}

// AvailableRoutes returns the registered routes whose availability predicate
// evaluates true for the parent state and whose circuit breaker is not open.
func (r *Router) AvailableRoutes(ctx context.Context, parent *State) ([]Route, error) {
	var available []Route
	for _, route := range r.Routes() {
		if r.breakers.State(route.Name()) == CircuitOpen {
			continue
		}
		ok, err := route.IsAvailable(ctx, parent)
		if err != nil {
			return nil, err
		}
		if ok {
			available = append(available, route)
		}
	}
	return available, nil
}

// Compile preflight-compiles every registered child route, builds the
// router's own two-node graph, and prepares the engines.
func (r *Router) Compile() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.decider == nil {
		return schema.NewErrorf(schema.ErrCodeCompile, "router %q has no decider", r.name)
	}
	if len(r.order) == 0 {
		return schema.NewErrorf(schema.ErrCodeCompile, "router %q has no routes", r.name)
	}

	childOpts := []Option{WithStepLimit(r.childStepLimit)}
	if r.logger != nil {
		childOpts = append(childOpts, WithLogger(r.logger))
	}
	for _, sink := range r.sinks {
		childOpts = append(childOpts, WithTraceSink(sink))
	}

	for _, name := range r.order {
		route := r.routes[name]
		reg := route.Registry()
		if !reg.Compiled() {
			if _, err := reg.Compile(); err != nil {
				return schema.NewErrorf(schema.ErrCodeCompile,
					"router %q: route %q failed to compile: %s", r.name, name, err.Error()).
					WithCause(err)
			}
		}
		r.engines[name] = NewEngine(reg, childOpts...)
	}

	reg := NewRegistry(r.name)
	if err := reg.AddNode(routerNodeDecide, r.decideBody, WithEntry()); err != nil {
		return err
	}
	if err := reg.AddNode(routerNodeInvoke, r.invokeBody); err != nil {
		return err
	}
	edges := []struct {
		node string
		edge EdgeDefinition
	}{
		{routerNodeDecide, EdgeDefinition{Name: routerEdgeInvoke, Target: routerNodeInvoke}},
		{routerNodeDecide, EdgeDefinition{Name: routerEdgeReply, Target: End}},
		{routerNodeInvoke, EdgeDefinition{Name: routerEdgeAwait, Target: routerNodeInvoke, Interrupt: true}},
		{routerNodeInvoke, EdgeDefinition{Name: routerEdgeDone, Target: End}},
	}
	for _, e := range edges {
		if err := reg.AddEdge(e.node, e.edge); err != nil {
			return err
		}
	}
	if _, err := reg.Compile(); err != nil {
		return err
	}

	r.engine = NewEngine(reg, childOpts...)
	return nil
}

// Compiled reports whether the router has been compiled since the last
// route change.
func (r *Router) Compiled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine != nil
}

// Invoke runs the router graph against the state: decide, then delegate or
// reply. A suspended state resumes into the suspended child route.
func (r *Router) Invoke(ctx context.Context, st *State) (*State, error) {
	r.mu.Lock()
	engine := r.engine
	r.mu.Unlock()

	if engine == nil {
		return st, schema.NewErrorf(schema.ErrCodeNotCompiled,
			"router %q is not compiled; call Compile first", r.name)
	}
	return engine.Invoke(ctx, st)
}

// decideBody asks the decision collaborator to pick a route or reply directly.
func (r *Router) decideBody(ctx context.Context, st *State) error {
	available, err := r.AvailableRoutes(ctx, st)
	if err != nil {
		return err
	}

	req := DecisionRequest{State: st}
	for _, route := range available {
		desc, err := route.Describe(ctx, st)
		if err != nil {
			return err
		}
		req.Routes = append(req.Routes, DecisionRoute{Name: route.Name(), Description: desc})
	}

	r.emit(ctx, st, schema.TraceEvent{Type: schema.EventDecisionRequested,
		Node: routerNodeDecide, Detail: map[string]any{"candidates": len(req.Routes)}})

	decision, err := r.decider.Decide(ctx, req)
	if err != nil {
		return err
	}

	if !decision.ShouldRoute {
		st.Reply = decision.Reply
		st.CurrentEdge = routerEdgeReply
		r.emit(ctx, st, schema.TraceEvent{Type: schema.EventDecisionResolved,
			Node: routerNodeDecide, Detail: map[string]any{"routed": false}})
		return nil
	}

	// The chosen route must be one of the candidates offered.
	chosen := ""
	for _, candidate := range req.Routes {
		if candidate.Name == decision.Route {
			chosen = candidate.Name
			break
		}
	}
	if chosen == "" {
		return schema.NewErrorf(schema.ErrCodeRouteUnavailable,
			"decision chose route %q which is not available", decision.Route).
			WithDetails(map[string]any{"chosen": decision.Route, "candidates": len(req.Routes)})
	}

	st.SelectedRoute = chosen
	st.CurrentEdge = routerEdgeInvoke
	r.emit(ctx, st, schema.TraceEvent{Type: schema.EventDecisionResolved,
		Node: routerNodeDecide, Route: chosen, Detail: map[string]any{"routed": true}})
	return nil
}

// invokeBody delegates into the selected (or suspended) child route.
func (r *Router) invokeBody(ctx context.Context, st *State) error {
	name := st.SelectedRoute
	resuming := false
	if st.PendingResume != "" {
		name = st.PendingResume
		resuming = true
	}
	if name == "" {
		return schema.NewError(schema.ErrCodeRouteUnavailable, "no route selected for delegation")
	}

	r.mu.Lock()
	route, ok := r.routes[name]
	childEngine := r.engines[name]
	r.mu.Unlock()
	if !ok || childEngine == nil {
		return schema.NewErrorf(schema.ErrCodeRouteUnavailable, "route %q is not registered", name)
	}

	if err := r.breakers.Allow(name); err != nil {
		return err
	}

	ctx = logging.WithRoute(ctx, name)

	child, err := route.ProjectState(ctx, st)
	if err != nil {
		return err
	}
	if resuming {
		edge, recorded := st.takeRouteResume(name)
		if !recorded {
			return schema.NewErrorf(schema.ErrCodeUndefinedEdge,
				"route %q has no recorded suspension point to resume", name)
		}
		st.PendingResume = ""
		child.PendingInterrupt = edge
		child.Status = schema.RunStatusSuspended
		r.emit(ctx, st, schema.TraceEvent{Type: schema.EventRouteResumed,
			Node: routerNodeInvoke, Route: name, Edge: edge})
	} else {
		r.emit(ctx, st, schema.TraceEvent{Type: schema.EventRouteDelegated,
			Node: routerNodeInvoke, Route: name})
	}

	childOut, err := childEngine.Invoke(ctx, child)
	if err != nil {
		state := r.breakers.RecordFailure(name)
		if state == CircuitOpen {
			r.emit(ctx, st, schema.TraceEvent{Type: schema.EventCircuitOpen, Route: name,
				Detail: r.breakers.Stats(name)})
		}
		st.SelectedRoute = ""
		return err
	}

	if childOut.Suspended() {
		// Child paused: fold progress into the parent, remember the child's
		// suspension point, and suspend the router via its await edge.
		if err := route.MergeState(ctx, st, childOut); err != nil {
			return err
		}
		st.PendingResume = name
		st.rememberRouteResume(name, childOut.PendingInterrupt)
		st.CurrentEdge = routerEdgeAwait
		return nil
	}

	if err := route.MergeState(ctx, st, childOut); err != nil {
		return err
	}
	r.breakers.RecordSuccess(name)
	st.SelectedRoute = ""
	st.PendingResume = ""
	st.CurrentEdge = routerEdgeDone
	r.emit(ctx, st, schema.TraceEvent{Type: schema.EventRouteMerged,
		Node: routerNodeInvoke, Route: name})
	return nil
}

// routerResumeKey is the RouteResumePoints key a mounted router uses to
// stash its own suspension point in the parent state.
func (r *Router) routerResumeKey() string {
	return "router:" + r.name
}

// Body returns a node body that runs the router as an ordinary node in a
// parent graph. awaitEdge must be an interrupt edge on the mounting node
// targeting the node itself; doneEdge is taken when the router concludes.
// Mount registers both.
func (r *Router) Body(awaitEdge, doneEdge string) NodeFunc {
	return func(ctx context.Context, parent *State) error {
		// Take the resume key before cloning so the copy does not carry it.
		resumeEdge, resuming := parent.takeRouteResume(r.routerResumeKey())
		rst := parent.Clone()
		rst.CurrentEdge = ""
		rst.PendingInterrupt = ""
		rst.Status = ""
		if resuming {
			rst.PendingInterrupt = resumeEdge
			rst.Status = schema.RunStatusSuspended
		}

		out, err := r.Invoke(ctx, rst)
		if err != nil {
			return err
		}

		parent.Vars = out.Vars
		parent.Reply = out.Reply
		parent.PendingResume = out.PendingResume
		parent.RouteResumePoints = out.RouteResumePoints
		parent.Visited = out.Visited
		parent.Steps = out.Steps

		if out.Suspended() {
			parent.rememberRouteResume(r.routerResumeKey(), out.PendingInterrupt)
			parent.CurrentEdge = awaitEdge
		} else {
			parent.CurrentEdge = doneEdge
		}
		return nil
	}
}

// Mount registers the router as a node in a parent registry, wiring the
// await (interrupt, self-targeting) and done edges.
func (r *Router) Mount(parent *Registry, nodeName, doneTarget string, opts ...NodeOption) error {
	awaitEdge := nodeName + "_await"
	doneEdge := nodeName + "_done"

	if err := parent.AddNode(nodeName, r.Body(awaitEdge, doneEdge), opts...); err != nil {
		return err
	}
	if err := parent.AddEdge(nodeName, EdgeDefinition{Name: awaitEdge, Target: nodeName, Interrupt: true}); err != nil {
		return err
	}
	return parent.AddEdge(nodeName, EdgeDefinition{Name: doneEdge, Target: doneTarget})
}

// emit publishes a router trace event to every sink.
func (r *Router) emit(ctx context.Context, st *State, event schema.TraceEvent) {
	if len(r.sinks) == 0 {
		return
	}
	event.RunID = st.RunID
	event.Graph = r.name
	event.Step = st.Steps
	event.Timestamp = time.Now().UTC()
	for _, sink := range r.sinks {
		_ = sink.Publish(ctx, event)
	}
}
