package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aloecraft/aloegraph/pkg/graph"
)

// supportRegistry builds the demo support graph: intake classifies the
// message, triage asks for more detail when the message is empty, resolve
// writes the resolution and finishes.
func supportRegistry() (*graph.Registry, error) {
	reg := graph.NewRegistry("support")

	err := reg.AddNode("intake", func(ctx context.Context, st *graph.State) error {
		msg, _ := st.Vars["message"].(string)
		st.Vars["topic"] = classify(msg)
		st.CurrentEdge = "triage"
		return nil
	}, graph.WithEntry())
	if err != nil {
		return nil, err
	}
	if err := reg.AddEdge("intake", graph.EdgeDefinition{Name: "triage", Target: "triage"}); err != nil {
		return nil, err
	}

	err = reg.AddNode("triage", func(ctx context.Context, st *graph.State) error {
		if msg, _ := st.Vars["message"].(string); msg == "" {
			st.CurrentEdge = "need_message"
			return nil
		}
		st.CurrentEdge = "resolve"
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := reg.AddEdge("triage", graph.EdgeDefinition{
		Name:        "need_message",
		Target:      "triage",
		Interrupt:   true,
		Description: "Waiting for the caller to describe the problem",
	}); err != nil {
		return nil, err
	}
	if err := reg.AddEdge("triage", graph.EdgeDefinition{
		Name:        "resolve",
		Target:      "resolve",
		Eligibility: []graph.Predicate{graph.CELPredicate(`vars.topic != ""`)},
	}); err != nil {
		return nil, err
	}

	err = reg.AddNode("resolve", func(ctx context.Context, st *graph.State) error {
		topic, _ := st.Vars["topic"].(string)
		st.Vars["resolution"] = fmt.Sprintf("filed a %s ticket", topic)
		st.Reply = fmt.Sprintf("Thanks, we filed a %s ticket for you.", topic)
		st.CurrentEdge = "done"
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := reg.AddEdge("resolve", graph.EdgeDefinition{
		Name:       "done",
		Target:     graph.End,
		Completion: graph.CELCompletion(`vars.resolution != ""`, "write a resolution before finishing"),
	}); err != nil {
		return nil, err
	}

	if _, err := reg.Compile(); err != nil {
		return nil, err
	}
	return reg, nil
}

func classify(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "invoice"), strings.Contains(lower, "charge"), strings.Contains(lower, "refund"):
		return "billing"
	case strings.Contains(lower, "order"), strings.Contains(lower, "delivery"), strings.Contains(lower, "shipping"):
		return "shipping"
	default:
		return "general"
	}
}

// helpdeskRouter builds the demo router: a keyword decider in front of a
// billing route and a shipping route that suspends until it has an order id.
func helpdeskRouter(opts ...graph.RouterOption) (*graph.Router, error) {
	billing := graph.NewRegistry("billing")
	err := billing.AddNode("answer", func(ctx context.Context, st *graph.State) error {
		st.Vars["answer"] = "Your latest invoice is available in the billing portal."
		st.CurrentEdge = "done"
		return nil
	}, graph.WithEntry())
	if err != nil {
		return nil, err
	}
	if err := billing.AddEdge("answer", graph.EdgeDefinition{Name: "done", Target: graph.End}); err != nil {
		return nil, err
	}

	shipping := graph.NewRegistry("shipping")
	err = shipping.AddNode("lookup", func(ctx context.Context, st *graph.State) error {
		orderID, _ := st.Vars["order_id"].(string)
		if orderID == "" {
			st.CurrentEdge = "need_order_id"
			return nil
		}
		st.Vars["answer"] = fmt.Sprintf("Order %s is out for delivery.", orderID)
		st.CurrentEdge = "done"
		return nil
	}, graph.WithEntry())
	if err != nil {
		return nil, err
	}
	if err := shipping.AddEdge("lookup", graph.EdgeDefinition{
		Name:        "need_order_id",
		Target:      "lookup",
		Interrupt:   true,
		Description: "Waiting for the caller to supply an order id",
	}); err != nil {
		return nil, err
	}
	if err := shipping.AddEdge("lookup", graph.EdgeDefinition{Name: "done", Target: graph.End}); err != nil {
		return nil, err
	}

	r := graph.NewRouter("helpdesk", keywordDecider(), opts...)
	r.AddRoute(graph.NewGraphRoute("billing", "Questions about invoices, charges and refunds", billing))
	r.AddRoute(graph.NewGraphRoute("shipping", "Questions about order delivery", shipping))
	if err := r.Compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// keywordDecider picks a route by matching the message against each offered
// route's name, replying directly when nothing matches.
func keywordDecider() graph.RouteDecider {
	return graph.RouteDeciderFunc(func(ctx context.Context, req graph.DecisionRequest) (graph.RouteDecision, error) {
		msg, _ := req.State.Vars["message"].(string)
		topic := classify(msg)
		for _, route := range req.Routes {
			if route.Name == topic {
				return graph.RouteDecision{ShouldRoute: true, Route: route.Name}, nil
			}
		}
		return graph.RouteDecision{
			ShouldRoute: false,
			Reply:       "I can help with billing or shipping questions.",
		}, nil
	})
}
