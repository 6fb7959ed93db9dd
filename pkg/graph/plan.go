package graph

// PlanEdge is the read-only view of a compiled edge, consumable by diagram
// renderers and other introspection surfaces.
type PlanEdge struct {
	Name        string `json:"name"`
	Target      string `json:"target"`
	Interrupt   bool   `json:"interrupt,omitempty"`
	Description string `json:"description,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
	Guarded     bool   `json:"guarded,omitempty"`
}

// PlanNode is the read-only view of a compiled node.
type PlanNode struct {
	Name  string     `json:"name"`
	Entry bool       `json:"entry,omitempty"`
	Edges []PlanEdge `json:"edges,omitempty"`
}

// Plan is the derived, read-only artifact produced at compile time. It drives
// validation and introspection; execution branching itself is driven by node
// bodies writing State.CurrentEdge.
type Plan struct {
	graph         string
	entry         string
	nodes         []PlanNode
	resumeTargets map[string]string
	varsSchema    []byte
}

func newPlan(graph, entry string, nodes map[string]*NodeDefinition, order []string, resumeTargets map[string]string, varsSchema []byte) *Plan {
	p := &Plan{
		graph:         graph,
		entry:         entry,
		resumeTargets: resumeTargets,
		varsSchema:    varsSchema,
	}
	for _, name := range order {
		node := nodes[name]
		pn := PlanNode{Name: name, Entry: node.Entry}
		for _, edge := range node.Edges() {
			pn.Edges = append(pn.Edges, PlanEdge{
				Name:        edge.Name,
				Target:      edge.Target,
				Interrupt:   edge.Interrupt,
				Description: edge.Description,
				Retryable:   edge.Completion != nil,
				Guarded:     len(edge.Eligibility) > 0,
			})
		}
		p.nodes = append(p.nodes, pn)
	}
	return p
}

// Graph returns the graph name.
func (p *Plan) Graph() string { return p.graph }

// Entry returns the entry node name.
func (p *Plan) Entry() string { return p.entry }

// Nodes returns the compiled nodes in registration order.
func (p *Plan) Nodes() []PlanNode { return p.nodes }

// ResumeTarget resolves a suspended interrupt edge name to the node that a
// resumed invocation dispatches to.
func (p *Plan) ResumeTarget(edgeName string) (string, bool) {
	target, ok := p.resumeTargets[edgeName]
	return target, ok
}

// VarsSchema returns the optional JSON Schema for the Vars payload.
func (p *Plan) VarsSchema() []byte { return p.varsSchema }
