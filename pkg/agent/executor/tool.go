// Package executor runs the tool calls of a query plan against the graph
// engine and the hybrid search, applies the plan fallback and a single
// critic-driven self-check round, and assembles the facts payload.
package executor

import (
	"context"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
)

// Call is one tool invocation with the request context the tools need.
type Call struct {
	Args     plan.ToolArgs
	Question string
	// Intent is the primary plan intent. The graph tool falls back to it
	// when Args.Intent is empty.
	Intent   plan.Intent
	Entities []graph.EntityMatch
}

// Result is what a tool returns for one call.
type Result struct {
	Facts      []facts.Item
	Sources    []facts.Source
	Found      bool
	Confidence float64
	// Evidence is a compact text rendering of what was found.
	Evidence string
	// Degraded is set when a scoring stage failed and a weaker order was
	// used instead.
	Degraded bool
}

// Tool is a plan tool.
type Tool interface {
	Name() string
	Execute(ctx context.Context, call Call) (Result, error)
}
