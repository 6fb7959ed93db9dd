package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aloecraft/aloegraph/internal/diagram"
	"github.com/aloecraft/aloegraph/internal/journal"
	"github.com/aloecraft/aloegraph/pkg/graph"
)

// handleInvoke starts a fresh run of a registered graph or router.
func (s *GraphServer) handleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphName, err := req.RequireString("graph")
	if err != nil {
		return mcp.NewToolResultError("graph is required"), nil
	}
	runner, ok := s.runner(graphName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("graph %q is not registered", graphName)), nil
	}

	vars := mcp.ParseStringMap(req, "vars", nil)
	st, runErr := runner.Invoke(ctx, graph.NewState(vars))
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}

	if st.Suspended() {
		s.runs.Put(graphName, st)
	}
	return marshalResult(runSummary(graphName, st))
}

// handleResume continues a suspended run held in the run table. The state is
// taken from the table so a run is never resumed twice concurrently.
func (s *GraphServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	graphName, st, ok := s.runs.Take(runID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no suspended run %q is held by this server", runID)), nil
	}
	runner, ok := s.runner(graphName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("graph %q is no longer registered", graphName)), nil
	}

	// Caller-supplied vars answer the interrupt.
	for k, v := range mcp.ParseStringMap(req, "vars", nil) {
		st.Vars[k] = v
	}

	out, runErr := runner.Invoke(ctx, st)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", runErr)), nil
	}

	if out.Suspended() {
		s.runs.Put(graphName, out)
	}
	return marshalResult(runSummary(graphName, out))
}

// handleRoutes lists a router's child routes with availability for a state.
func (s *GraphServer) handleRoutes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routerName, err := req.RequireString("router")
	if err != nil {
		return mcp.NewToolResultError("router is required"), nil
	}
	r, ok := s.router(routerName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("router %q is not registered", routerName)), nil
	}

	st := graph.NewState(mcp.ParseStringMap(req, "vars", nil))
	available, availErr := r.AvailableRoutes(ctx, st)
	if availErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("availability check failed: %v", availErr)), nil
	}
	availableSet := make(map[string]bool, len(available))
	for _, route := range available {
		availableSet[route.Name()] = true
	}

	type routeRow struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Available   bool   `json:"available"`
	}
	rows := make([]routeRow, 0)
	for _, route := range r.Routes() {
		desc, descErr := route.Describe(ctx, st)
		if descErr != nil {
			desc = ""
		}
		rows = append(rows, routeRow{
			Name:        route.Name(),
			Description: desc,
			Available:   availableSet[route.Name()],
		})
	}
	return marshalResult(map[string]any{"router": routerName, "routes": rows})
}

// handlePlan inspects a compiled plan, as JSON or rendered as a chart.
func (s *GraphServer) handlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphName, err := req.RequireString("graph")
	if err != nil {
		return mcp.NewToolResultError("graph is required"), nil
	}
	e, ok := s.engine(graphName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("graph %q is not registered", graphName)), nil
	}
	plan := e.Plan()

	// Optional progress overlay from a held run.
	var overlay *graph.State
	if runID := req.GetString("run_id", ""); runID != "" {
		if heldGraph, st, held := s.runs.Get(runID); held && heldGraph == graphName {
			overlay = st
		}
	}

	format := req.GetString("format", "json")
	switch format {
	case "json":
		return marshalResult(map[string]any{
			"graph": plan.Graph(),
			"entry": plan.Entry(),
			"nodes": plan.Nodes(),
		})
	case "mermaid", "ascii":
		model, buildErr := diagram.Build(plan, overlay)
		if buildErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
		}
		if format == "mermaid" {
			return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
		}
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	default:
		return mcp.NewToolResultError("format must be json, mermaid, or ascii"), nil
	}
}

// handleTrace reads a run's journal rows.
func (s *GraphServer) handleTrace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if s.journal == nil {
		return mcp.NewToolResultError("trace journal is not configured"), nil
	}

	filter := journal.TraceFilter{Limit: parseLimit(req.GetString("limit", ""), 100)}
	if eventType := req.GetString("event_type", ""); eventType != "" {
		filter.EventTypes = []string{eventType}
	}

	events, listErr := s.journal.ListTrace(ctx, runID, filter)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace query failed: %v", listErr)), nil
	}

	out := map[string]any{"run_id": runID, "events": events}
	if rec, recErr := s.journal.GetRun(ctx, runID); recErr == nil {
		out["run"] = rec
	}
	return marshalResult(out)
}

// --- Helpers ---

// runSummary is the JSON shape returned by invoke and resume.
func runSummary(graphName string, st *graph.State) map[string]any {
	out := map[string]any{
		"run_id": st.RunID,
		"graph":  graphName,
		"status": st.Status,
		"steps":  st.Steps,
		"vars":   st.Vars,
	}
	if st.Suspended() {
		out["pending_interrupt"] = st.PendingInterrupt
	}
	if st.Reply != "" {
		out["reply"] = st.Reply
	}
	if st.ErrorMessage != "" {
		out["error_message"] = st.ErrorMessage
	}
	return out
}

// parseLimit parses a string limit argument with a default.
func parseLimit(raw string, defaultVal int) int {
	if raw == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
