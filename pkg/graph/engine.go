package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aloecraft/aloegraph/internal/logging"
	"github.com/aloecraft/aloegraph/internal/validation"
	"github.com/aloecraft/aloegraph/pkg/schema"
)

// DefaultStepLimit bounds node dispatches in one Invoke call.
const DefaultStepLimit = 10

// TraceSink receives step-level trace events as execution proceeds.
// streaming.MemoryHub satisfies it; absence of sinks means events are dropped.
type TraceSink interface {
	Publish(ctx context.Context, event schema.TraceEvent) error
}

// StepOutcomeKind tags the result of one engine step.
type StepOutcomeKind int

const (
	// OutcomeContinue advances the loop to the next dispatch target.
	OutcomeContinue StepOutcomeKind = iota
	// OutcomeSuspended pauses the run on an interrupt edge.
	OutcomeSuspended
	// OutcomeTerminated concludes the run: an edge targeted End.
	OutcomeTerminated
	// OutcomeFailed stops the run with an error.
	OutcomeFailed
)

// StepOutcome is the tagged result of one step. Callers loop until the
// outcome is not OutcomeContinue.
type StepOutcome struct {
	Kind StepOutcomeKind
	// Next is the next dispatch target (OutcomeContinue).
	Next string
	// Edge is the suspended interrupt edge name (OutcomeSuspended).
	Edge string
	// Err is the failure (OutcomeFailed).
	Err error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. A nil logger drops log output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStepLimit overrides the per-invocation dispatch bound.
func WithStepLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.stepLimit = limit
		}
	}
}

// WithTraceSink adds a trace sink. May be given multiple times.
func WithTraceSink(sink TraceSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sinks = append(e.sinks, sink)
		}
	}
}

// Engine runs the step loop over a compiled registry.
type Engine struct {
	reg       *Registry
	stepLimit int
	logger    *slog.Logger
	sinks     []TraceSink
	validator *validation.VarsValidator
}

// NewEngine creates an engine for a registry. The registry must be compiled
// before Invoke is called.
func NewEngine(reg *Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:       reg,
		stepLimit: DefaultStepLimit,
		validator: validation.NewVarsValidator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph name.
func (e *Engine) Graph() string { return e.reg.Name() }

// Plan returns the compiled plan, or nil if the registry is not compiled.
func (e *Engine) Plan() *Plan { return e.reg.Plan() }

// Invoke runs the graph against the state until it terminates, suspends, or
// fails. A state with PendingInterrupt set resumes at the recorded suspension
// point instead of the entry node. The state is mutated in place and must not
// be shared with a concurrent Invoke.
func (e *Engine) Invoke(ctx context.Context, st *State) (*State, error) {
	plan := e.reg.Plan()
	if plan == nil {
		return st, schema.NewErrorf(schema.ErrCodeNotCompiled,
			"graph %q is not compiled; call Compile first", e.reg.Name())
	}
	if st == nil {
		st = NewState(nil)
	}
	if st.Vars == nil {
		st.Vars = map[string]any{}
	}

	var target string
	if st.Suspended() {
		resumeEdge := st.PendingInterrupt
		t, ok := plan.ResumeTarget(resumeEdge)
		if !ok {
			return e.fail(ctx, st, schema.NewErrorf(schema.ErrCodeUndefinedEdge,
				"cannot resume: interrupt edge %q is not in the plan", resumeEdge))
		}
		st.PendingInterrupt = ""
		target = t
		ctx = logging.WithRunID(ctx, st.RunID)
		if err := transitionStatus(st, schema.RunStatusRunning); err != nil {
			return e.fail(ctx, st, err)
		}
		e.emit(ctx, st, schema.TraceEvent{Type: schema.EventRunResumed, Edge: resumeEdge, Node: target})
	} else {
		st.ErrorMessage = ""
		st.RetryHint = ""
		if st.RunID == "" {
			st.RunID = uuid.New().String()
		}
		if st.Status == "" {
			st.Status = schema.RunStatusPending
		}
		ctx = logging.WithRunID(ctx, st.RunID)
		if varsSchema := plan.VarsSchema(); len(varsSchema) > 0 {
			if err := e.validator.ValidateVars(st.Vars, varsSchema); err != nil {
				return e.fail(ctx, st, err)
			}
		}
		if err := transitionStatus(st, schema.RunStatusRunning); err != nil {
			return e.fail(ctx, st, err)
		}
		target = plan.Entry()
		e.emit(ctx, st, schema.TraceEvent{Type: statusEventType(st.Status), Node: target})
	}

	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, st, schema.NewError(schema.ErrCodeNodeExecution, "run cancelled").WithCause(err))
		}
		steps++
		if steps > e.stepLimit {
			e.emit(ctx, st, schema.TraceEvent{Type: schema.EventStepLimitExceeded, Node: target,
				Detail: map[string]any{"limit": e.stepLimit}})
			return e.fail(ctx, st, schema.NewErrorf(schema.ErrCodeStepLimitExceeded,
				"step limit %d exceeded at %q; the graph is likely cycling without reaching %s",
				e.stepLimit, target, End).
				WithDetails(map[string]any{"limit": e.stepLimit, "last_target": target}))
		}

		outcome := e.step(ctx, st, target)
		switch outcome.Kind {
		case OutcomeContinue:
			target = outcome.Next

		case OutcomeSuspended:
			if err := transitionStatus(st, schema.RunStatusSuspended); err != nil {
				return e.fail(ctx, st, err)
			}
			e.emit(ctx, st, schema.TraceEvent{Type: statusEventType(st.Status), Edge: outcome.Edge})
			if e.logger != nil {
				logging.LogWith(ctx, e.logger).InfoContext(ctx, "run suspended", "edge", outcome.Edge)
			}
			return st, nil

		case OutcomeTerminated:
			if err := transitionStatus(st, schema.RunStatusCompleted); err != nil {
				return e.fail(ctx, st, err)
			}
			e.emit(ctx, st, schema.TraceEvent{Type: statusEventType(st.Status)})
			if e.logger != nil {
				logging.LogWith(ctx, e.logger).InfoContext(ctx, "run completed", "steps", st.Steps)
			}
			return st, nil

		case OutcomeFailed:
			return e.fail(ctx, st, outcome.Err)
		}
	}
}

// step executes one node dispatch: run the body, resolve the chosen edge,
// check eligibility, run the completion loop, then suspend or advance.
func (e *Engine) step(ctx context.Context, st *State, target string) StepOutcome {
	if target == End {
		return StepOutcome{Kind: OutcomeTerminated}
	}

	node, ok := e.reg.node(target)
	if !ok {
		return StepOutcome{Kind: OutcomeFailed, Err: schema.NewErrorf(schema.ErrCodeUnknownNode,
			"dispatch target %q is not a registered node", target)}
	}

	ctx = logging.WithNode(ctx, node.Name)
	st.Visited = append(st.Visited, node.Name)
	st.Steps++
	e.emit(ctx, st, schema.TraceEvent{Type: schema.EventNodeEntered, Node: node.Name})
	if e.logger != nil {
		logging.LogWith(ctx, e.logger).DebugContext(ctx, "entering node")
	}

	if err := e.runBody(ctx, node, st); err != nil {
		return StepOutcome{Kind: OutcomeFailed, Err: err}
	}

	edge, err := resolveEdge(node, st)
	if err != nil {
		return StepOutcome{Kind: OutcomeFailed, Err: err}
	}
	st.CurrentEdge = ""

	for _, pred := range edge.Eligibility {
		ok, err := pred(ctx, st)
		if err != nil {
			return StepOutcome{Kind: OutcomeFailed, Err: err}
		}
		if !ok {
			return StepOutcome{Kind: OutcomeFailed, Err: schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"edge %q is not eligible from node %q", edge.Name, node.Name).
				WithNode(node.Name).
				WithDetails(map[string]any{"edge": edge.Name})}
		}
	}

	if edge.Completion != nil {
		if err := e.completionLoop(ctx, node, edge, st); err != nil {
			return StepOutcome{Kind: OutcomeFailed, Err: err}
		}
	}

	if edge.Interrupt {
		st.PendingInterrupt = edge.Name
		e.emit(ctx, st, schema.TraceEvent{Type: schema.EventInterruptRaised, Node: node.Name, Edge: edge.Name})
		return StepOutcome{Kind: OutcomeSuspended, Edge: edge.Name}
	}

	e.emit(ctx, st, schema.TraceEvent{Type: schema.EventEdgeTaken, Node: node.Name, Edge: edge.Name,
		Detail: map[string]any{"target": edge.Target}})
	return StepOutcome{Kind: OutcomeContinue, Next: edge.Target}
}

// runBody invokes a node body, containing panics and applying the node's
// error policy.
func (e *Engine) runBody(ctx context.Context, node *NodeDefinition, st *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.handleBodyError(ctx, node, st,
				schema.NewErrorf(schema.ErrCodeNodeExecution, "node panicked: %v", r).WithNode(node.Name))
		}
	}()

	if bodyErr := node.Body(ctx, st); bodyErr != nil {
		return e.handleBodyError(ctx, node, st, bodyErr)
	}
	return nil
}

func (e *Engine) handleBodyError(ctx context.Context, node *NodeDefinition, st *State, bodyErr error) error {
	e.emit(ctx, st, schema.TraceEvent{Type: schema.EventNodeFailed, Node: node.Name,
		Detail: map[string]any{"error": bodyErr.Error()}})

	if node.ErrorPolicy == AnnotateErrorEdge {
		st.ErrorMessage = bodyErr.Error()
		st.CurrentEdge = node.ErrorEdge
		if e.logger != nil {
			logging.LogWith(ctx, e.logger).WarnContext(ctx, "node failed, taking error edge",
				"edge", node.ErrorEdge, "error", bodyErr)
		}
		return nil
	}

	if aloeErr, ok := bodyErr.(*schema.AloeError); ok {
		return aloeErr.WithNode(node.Name)
	}
	return schema.NewErrorf(schema.ErrCodeNodeExecution, "node body failed: %s", bodyErr.Error()).
		WithNode(node.Name).
		WithCause(bodyErr)
}

// completionLoop re-invokes the node body until the edge's completion check
// passes or the retry budget is exhausted. The initial invocation counts as
// the first attempt.
func (e *Engine) completionLoop(ctx context.Context, node *NodeDefinition, edge *EdgeDefinition, st *State) error {
	attempts := 1
	for {
		ok, hint, err := edge.Completion(ctx, st)
		if err != nil {
			return err
		}
		if ok {
			st.RetryHint = ""
			e.emit(ctx, st, schema.TraceEvent{Type: schema.EventCompletionSatisfied,
				Node: node.Name, Edge: edge.Name,
				Detail: map[string]any{"attempts": attempts}})
			return nil
		}

		if attempts >= edge.RetryBudget {
			return schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"node %q exhausted completion retry budget after %d attempts", node.Name, attempts).
				WithNode(node.Name).
				WithDetails(map[string]any{"attempts": attempts, "budget": edge.RetryBudget, "hint": hint})
		}

		st.RetryHint = hint
		e.emit(ctx, st, schema.TraceEvent{Type: schema.EventCompletionRetry,
			Node: node.Name, Edge: edge.Name,
			Detail: map[string]any{"attempt": attempts, "hint": hint}})
		if e.logger != nil {
			logging.LogWith(ctx, e.logger).DebugContext(ctx, "completion check failed, retrying",
				"attempt", attempts, "hint", hint)
		}

		if err := waitBackoff(ctx, computeBackoff(edge.Backoff, attempts-1)); err != nil {
			return schema.NewError(schema.ErrCodeNodeExecution, "run cancelled during backoff").WithCause(err)
		}
		if err := e.runBody(ctx, node, st); err != nil {
			return err
		}
		attempts++
	}
}

// resolveEdge maps State.CurrentEdge to an edge definition. When the lookup
// misses and the node has exactly one outgoing edge, that edge is the
// default.
func resolveEdge(node *NodeDefinition, st *State) (*EdgeDefinition, error) {
	if st.CurrentEdge != "" {
		if edge, ok := node.edges[st.CurrentEdge]; ok {
			return edge, nil
		}
	}
	if len(node.edgeOrder) == 1 {
		return node.edges[node.edgeOrder[0]], nil
	}

	desired := st.CurrentEdge
	if desired == "" {
		desired = "(unset)"
	}
	return nil, schema.NewErrorf(schema.ErrCodeUndefinedEdge,
		"node %q selected edge %s which is not defined (%d edges available)",
		node.Name, desired, len(node.edgeOrder)).
		WithNode(node.Name).
		WithDetails(map[string]any{"selected": st.CurrentEdge, "available": node.edgeOrder})
}

// fail marks the state failed and surfaces the error.
func (e *Engine) fail(ctx context.Context, st *State, err error) (*State, error) {
	st.ErrorMessage = err.Error()
	if !st.Status.Terminal() {
		_ = transitionStatus(st, schema.RunStatusFailed)
	}
	e.emit(ctx, st, schema.TraceEvent{Type: statusEventType(st.Status),
		Detail: map[string]any{"error": err.Error()}})
	if e.logger != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "run failed", "error", err)
	}
	return st, err
}

// emit publishes a trace event to every sink. Sink errors are dropped.
func (e *Engine) emit(ctx context.Context, st *State, event schema.TraceEvent) {
	if len(e.sinks) == 0 {
		return
	}
	event.RunID = st.RunID
	event.Graph = e.reg.Name()
	if event.Step == 0 {
		event.Step = st.Steps
	}
	event.Timestamp = time.Now().UTC()
	for _, sink := range e.sinks {
		_ = sink.Publish(ctx, event)
	}
}

// String implements fmt.Stringer for diagnostics.
func (e *Engine) String() string {
	return fmt.Sprintf("engine(%s, limit=%d)", e.reg.Name(), e.stepLimit)
}
