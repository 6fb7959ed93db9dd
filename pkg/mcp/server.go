package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aloecraft/aloegraph/internal/journal"
	"github.com/aloecraft/aloegraph/pkg/graph"
)

// GraphRunner is the invocable surface shared by engines and routers.
type GraphRunner interface {
	Invoke(ctx context.Context, st *graph.State) (*graph.State, error)
}

// GraphServerDeps holds the optional dependencies for a GraphServer.
// Graphs and routers are registered after construction.
type GraphServerDeps struct {
	Journal journal.Journal // optional; enables aloegraph.trace
	Logger  *slog.Logger
}

// GraphServer exposes compiled graphs over MCP stdio. Suspended runs are held
// in an in-process run table keyed by run ID, so resume works only within the
// server's own lifetime.
type GraphServer struct {
	mu      sync.RWMutex
	engines map[string]*graph.Engine
	routers map[string]*graph.Router

	runs      *RunTable
	journal   journal.Journal
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewGraphServer creates a server with all 5 tools registered.
func NewGraphServer(deps GraphServerDeps) *GraphServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &GraphServer{
		engines: make(map[string]*graph.Engine),
		routers: make(map[string]*graph.Router),
		runs:    NewRunTable(),
		journal: deps.Journal,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"aloegraph",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Aloegraph runs stepwise, interruptible agent graphs. Use aloegraph.invoke to start a run, aloegraph.resume to continue a suspended run, aloegraph.routes to inspect a router's child routes, aloegraph.plan to inspect or render a compiled graph, and aloegraph.trace to read a run's trace from the journal."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// RegisterEngine makes a compiled graph invocable by name.
func (s *GraphServer) RegisterEngine(e *graph.Engine) error {
	if e.Plan() == nil {
		return fmt.Errorf("graph %q is not compiled", e.Graph())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[e.Graph()] = e
	return nil
}

// RegisterRouter makes a compiled router invocable by name.
func (s *GraphServer) RegisterRouter(r *graph.Router) error {
	if !r.Compiled() {
		return fmt.Errorf("router %q is not compiled", r.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routers[r.Name()] = r
	return nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *GraphServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *GraphServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Runs returns the in-process run table.
func (s *GraphServer) Runs() *RunTable {
	return s.runs
}

// runner resolves a registered graph or router by name.
func (s *GraphServer) runner(name string) (GraphRunner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.engines[name]; ok {
		return e, true
	}
	if r, ok := s.routers[name]; ok {
		return r, true
	}
	return nil, false
}

func (s *GraphServer) engine(name string) (*graph.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[name]
	return e, ok
}

func (s *GraphServer) router(name string) (*graph.Router, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[name]
	return r, ok
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *GraphServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: invokeTool(), Handler: s.handleInvoke},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: routesTool(), Handler: s.handleRoutes},
		{Tool: planTool(), Handler: s.handlePlan},
		{Tool: traceTool(), Handler: s.handleTrace},
	}
}

// --- Tool definitions ---

func invokeTool() mcp.Tool {
	return mcp.NewTool("aloegraph.invoke",
		mcp.WithDescription("Start a fresh run of a registered graph or router"),
		mcp.WithString("graph", mcp.Required(), mcp.Description("Name of the registered graph or router")),
		mcp.WithObject("vars", mcp.Description("Initial state payload")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("aloegraph.resume",
		mcp.WithDescription("Resume a suspended run held by this server"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID returned by a suspended invoke")),
		mcp.WithObject("vars", mcp.Description("Vars merged into the suspended state before resuming")),
	)
}

func routesTool() mcp.Tool {
	return mcp.NewTool("aloegraph.routes",
		mcp.WithDescription("List a router's child routes with availability"),
		mcp.WithString("router", mcp.Required(), mcp.Description("Name of the registered router")),
		mcp.WithObject("vars", mcp.Description("State payload used to evaluate availability")),
	)
}

func planTool() mcp.Tool {
	return mcp.NewTool("aloegraph.plan",
		mcp.WithDescription("Inspect a compiled graph plan, optionally rendered as a chart"),
		mcp.WithString("graph", mcp.Required(), mcp.Description("Name of the registered graph")),
		mcp.WithString("format", mcp.Enum("json", "mermaid", "ascii"),
			mcp.Description("Output format (default: json)")),
		mcp.WithString("run_id", mcp.Description("Overlay a held run's progress onto the chart")),
	)
}

func traceTool() mcp.Tool {
	return mcp.NewTool("aloegraph.trace",
		mcp.WithDescription("Read a run's trace events from the journal"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID to read")),
		mcp.WithString("event_type", mcp.Description("Filter to one event type")),
		mcp.WithString("limit", mcp.Description("Maximum events to return (default: 100)")),
	)
}
