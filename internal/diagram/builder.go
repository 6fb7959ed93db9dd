package diagram

import (
	"fmt"

	"github.com/aloecraft/aloegraph/pkg/graph"
)

// Build constructs a DiagramModel from a compiled plan. The optional run
// state overlays visited, suspension, and failure markers; pass nil for a
// plain topology diagram.
func Build(plan *graph.Plan, st *graph.State) (*DiagramModel, error) {
	if plan == nil {
		return nil, fmt.Errorf("diagram: plan is nil")
	}

	visited := make(map[string]bool)
	suspendedAt := ""
	failed := false
	if st != nil {
		for _, name := range st.Visited {
			visited[name] = true
		}
		if st.PendingInterrupt != "" {
			if target, ok := plan.ResumeTarget(st.PendingInterrupt); ok {
				suspendedAt = target
			}
		}
		failed = st.Status.Terminal() && st.ErrorMessage != ""
	}

	planNodes := plan.Nodes()
	nodes := make([]*Node, 0, len(planNodes)+1)
	var edges []Edge
	hasEnd := false

	for _, pn := range planNodes {
		kind := NodeKindNode
		if pn.Entry {
			kind = NodeKindEntry
		}
		node := &Node{ID: pn.Name, Label: pn.Name, Kind: kind}
		if st != nil {
			node.Status = &StatusOverlay{
				Visited:   visited[pn.Name],
				Suspended: pn.Name == suspendedAt,
				Failed:    failed && lastVisited(st.Visited) == pn.Name,
			}
		}
		nodes = append(nodes, node)

		for _, pe := range pn.Edges {
			if pe.Target == graph.End {
				hasEnd = true
			}
			edges = append(edges, Edge{
				From:      pn.Name,
				To:        pe.Target,
				Label:     edgeLabel(pe),
				Interrupt: pe.Interrupt,
				Guarded:   pe.Guarded,
				Retryable: pe.Retryable,
			})
		}
	}

	if hasEnd {
		nodes = append(nodes, &Node{ID: graph.End, Label: "END", Kind: NodeKindEnd})
	}

	return &DiagramModel{
		Title:  plan.Graph(),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(plan, hasEnd),
	}, nil
}

// edgeLabel picks the label shown on an edge. The edge name is omitted when
// it merely repeats the target.
func edgeLabel(pe graph.PlanEdge) string {
	if pe.Name != "" && pe.Name != pe.Target {
		return pe.Name
	}
	return ""
}

// buildLevels computes a breadth-first layering from the entry node, used by
// the level-based ASCII renderer. Nodes unreachable from the entry land in a
// trailing level so they still render.
func buildLevels(plan *graph.Plan, hasEnd bool) [][]string {
	adjacency := make(map[string][]string)
	known := make(map[string]bool)
	for _, pn := range plan.Nodes() {
		known[pn.Name] = true
		for _, pe := range pn.Edges {
			adjacency[pn.Name] = append(adjacency[pn.Name], pe.Target)
		}
	}

	var levels [][]string
	placed := map[string]bool{}
	frontier := []string{plan.Entry()}
	for len(frontier) > 0 {
		var level, next []string
		for _, name := range frontier {
			if placed[name] || !known[name] {
				continue
			}
			placed[name] = true
			level = append(level, name)
			next = append(next, adjacency[name]...)
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
		frontier = next
	}

	var orphans []string
	for _, pn := range plan.Nodes() {
		if !placed[pn.Name] {
			orphans = append(orphans, pn.Name)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	if hasEnd {
		levels = append(levels, []string{graph.End})
	}
	return levels
}

func lastVisited(visited []string) string {
	if len(visited) == 0 {
		return ""
	}
	return visited[len(visited)-1]
}
