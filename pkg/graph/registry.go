package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

// NodeFunc is a node body. It mutates the state in place and sets
// State.CurrentEdge to the name of the edge it wishes to take. A returned
// error signals an unhandled node failure, handled per the node's ErrorPolicy.
type NodeFunc func(ctx context.Context, st *State) error

// ErrorPolicy selects how the engine reacts to a node body error.
type ErrorPolicy int

const (
	// FailFast stops the run and surfaces the error. Default.
	FailFast ErrorPolicy = iota
	// AnnotateErrorEdge records the error in State.ErrorMessage and takes
	// the node's configured error edge instead of failing the run.
	AnnotateErrorEdge
)

// NodeDefinition holds a registered node and its outgoing edges.
// Immutable after Compile.
type NodeDefinition struct {
	Name        string
	Entry       bool
	Body        NodeFunc
	ErrorPolicy ErrorPolicy
	ErrorEdge   string

	edges     map[string]*EdgeDefinition
	edgeOrder []string
}

// Edges returns the node's outgoing edges in registration order.
func (n *NodeDefinition) Edges() []*EdgeDefinition {
	out := make([]*EdgeDefinition, 0, len(n.edgeOrder))
	for _, name := range n.edgeOrder {
		out = append(out, n.edges[name])
	}
	return out
}

// BackoffPolicy controls the delay between completion-check retry attempts.
type BackoffPolicy struct {
	// Kind is one of "none", "constant", "linear", "exponential".
	Kind string
	// Delay is the base delay.
	Delay time.Duration
	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration
}

// EdgeDefinition is a named, directed transition from a node to a target
// node or to End.
type EdgeDefinition struct {
	// Name is the edge name. Defaults to Target when empty.
	Name string
	// Target is a registered node name or End.
	Target string
	// Interrupt suspends the run when this edge is taken, returning control
	// to the caller with State.PendingInterrupt set to the edge name.
	Interrupt bool
	// Description is a human-readable summary, may reference state via
	// ${{...}} interpolation. Used by diagrams and route decisions.
	Description string
	// Eligibility predicates gate this transition. All must evaluate true
	// for the edge to be taken; otherwise the run fails with
	// INVALID_TRANSITION.
	Eligibility []Predicate
	// Completion, when set, is evaluated after the node body runs. On
	// failure the node body is re-invoked up to RetryBudget times with the
	// hint stored in State.RetryHint.
	Completion CompletionCheck
	// RetryBudget bounds completion-check re-attempts. Defaults to 5 when
	// a Completion is set.
	RetryBudget int
	// Backoff is an optional delay policy between completion retries.
	Backoff *BackoffPolicy
}

// DefaultRetryBudget is the completion-check retry budget when unset.
const DefaultRetryBudget = 5

// NodeOption configures a node at registration time.
type NodeOption func(*NodeDefinition)

// WithEntry marks the node as the entry node.
func WithEntry() NodeOption {
	return func(n *NodeDefinition) { n.Entry = true }
}

// WithErrorEdge opts the node into the annotate-error-edge policy: on a body
// error the engine records the failure and takes the named edge.
func WithErrorEdge(edge string) NodeOption {
	return func(n *NodeDefinition) {
		n.ErrorPolicy = AnnotateErrorEdge
		n.ErrorEdge = edge
	}
}

// Registry holds node definitions and their outgoing edges for one graph.
// Registration happens through explicit AddNode/AddEdge calls; Compile
// performs structural validation and produces the execution plan.
type Registry struct {
	name string

	mu         sync.RWMutex
	nodes      map[string]*NodeDefinition
	nodeOrder  []string
	varsSchema []byte
	plan       *Plan
}

// NewRegistry creates an empty registry for a named graph.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:  name,
		nodes: make(map[string]*NodeDefinition),
	}
}

// Name returns the graph name.
func (r *Registry) Name() string { return r.name }

// AddNode registers a node body under a unique name.
func (r *Registry) AddNode(name string, body NodeFunc, opts ...NodeOption) error {
	if name == "" || name == End {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid node name %q", name)
	}
	if body == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node %q has no body", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node name %q", name)
	}

	node := &NodeDefinition{
		Name:  name,
		Body:  body,
		edges: make(map[string]*EdgeDefinition),
	}
	for _, opt := range opts {
		opt(node)
	}
	if node.ErrorPolicy == AnnotateErrorEdge && node.ErrorEdge == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "node %q: error edge name is empty", name)
	}

	r.nodes[name] = node
	r.nodeOrder = append(r.nodeOrder, name)
	r.plan = nil
	return nil
}

// AddEdge registers an outgoing edge on a node. The edge name defaults to
// the target name. Duplicate edge names on one node are rejected.
func (r *Registry) AddEdge(nodeName string, edge EdgeDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeName]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeUnknownNode, "node %q is not registered", nodeName)
	}
	if edge.Target == "" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"node %q: edge has no target", nodeName)
	}
	if edge.Name == "" {
		edge.Name = edge.Target
	}
	if _, exists := node.edges[edge.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeCompile,
			"node %q: duplicate edge name %q", nodeName, edge.Name)
	}
	if edge.Completion != nil && edge.RetryBudget <= 0 {
		edge.RetryBudget = DefaultRetryBudget
	}

	node.edges[edge.Name] = &edge
	node.edgeOrder = append(node.edgeOrder, edge.Name)
	r.plan = nil
	return nil
}

// SetVarsSchema attaches a JSON Schema enforced against State.Vars at the
// start of each fresh invocation. Pass nil to remove.
func (r *Registry) SetVarsSchema(schemaJSON []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.varsSchema = schemaJSON
	r.plan = nil
}

// Compiled reports whether the registry has a current plan.
func (r *Registry) Compiled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plan != nil
}

// Plan returns the compiled plan, or nil if the registry is not compiled.
func (r *Registry) Plan() *Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plan
}

// Compile validates the registry and produces an execution plan:
// exactly one entry node, every edge target is End or a registered node,
// interrupt edge names resolve unambiguously for resume. On any violation it
// returns a COMPILE_ERROR carrying the full issue list and no plan.
func (r *Registry) Compile() (*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &schema.ValidationResult{}

	var entry string
	for _, name := range r.nodeOrder {
		node := r.nodes[name]
		if node.Entry {
			if entry != "" {
				result.AddError("nodes."+name, schema.ErrCodeCompile,
					fmt.Sprintf("multiple entry nodes: %q and %q", entry, name))
				continue
			}
			entry = name
		}
	}
	if entry == "" && len(r.nodeOrder) > 0 {
		result.AddError("nodes", schema.ErrCodeCompile, "no entry node registered")
	}
	if len(r.nodeOrder) == 0 {
		result.AddError("nodes", schema.ErrCodeCompile, "registry has no nodes")
	}

	resumeTargets := make(map[string]string)
	for _, name := range r.nodeOrder {
		node := r.nodes[name]
		if len(node.edgeOrder) == 0 {
			result.AddWarning("nodes."+name, schema.ErrCodeCompile,
				"node has no outgoing edges; only reachable as a dead end")
		}
		if node.ErrorPolicy == AnnotateErrorEdge {
			if _, ok := node.edges[node.ErrorEdge]; !ok {
				result.AddError("nodes."+name, schema.ErrCodeCompile,
					fmt.Sprintf("error edge %q is not a registered edge", node.ErrorEdge))
			}
		}
		for _, edgeName := range node.edgeOrder {
			edge := node.edges[edgeName]
			path := fmt.Sprintf("nodes.%s.edges.%s", name, edgeName)
			if edge.Target != End {
				if _, ok := r.nodes[edge.Target]; !ok {
					result.AddError(path, schema.ErrCodeCompile,
						fmt.Sprintf("edge target %q is not a registered node", edge.Target))
				}
			}
			if edge.Interrupt {
				if edge.Target == End {
					result.AddError(path, schema.ErrCodeCompile,
						"interrupt edge cannot target "+End)
					continue
				}
				if prev, ok := resumeTargets[edgeName]; ok && prev != edge.Target {
					result.AddError(path, schema.ErrCodeCompile,
						fmt.Sprintf("interrupt edge name %q maps to both %q and %q; resume would be ambiguous",
							edgeName, prev, edge.Target))
					continue
				}
				resumeTargets[edgeName] = edge.Target
			}
		}
	}

	if err := result.ToError(); err != nil {
		return nil, err
	}

	r.plan = newPlan(r.name, entry, r.nodes, r.nodeOrder, resumeTargets, r.varsSchema)
	return r.plan, nil
}

// node returns a registered node definition.
func (r *Registry) node(name string) (*NodeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	return n, ok
}
