// Package graph implements a declarative workflow engine for stepwise,
// interruptible agent pipelines. A Registry holds named nodes connected by
// edges; an Engine compiles the registry into a plan and runs the step loop
// one node at a time against a mutable State, suspending on interrupt edges
// and resuming on re-invocation. Routers compose graphs hierarchically by
// delegating to a selected child route.
package graph
