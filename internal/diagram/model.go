package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindEntry NodeKind = "entry"
	NodeKindNode  NodeKind = "node"
	NodeKindEnd   NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single graph node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node, derived from a run's
// visited trail and suspension point.
type StatusOverlay struct {
	Visited   bool
	Suspended bool
	Failed    bool
}

// Edge represents a transition between two nodes.
type Edge struct {
	From      string
	To        string
	Label     string
	Interrupt bool
	Guarded   bool
	Retryable bool
}
