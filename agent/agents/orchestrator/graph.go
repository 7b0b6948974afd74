package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	nodex "github.com/polarcommerce/return-agent/agent/nodes"
)

// compileHandleMessageGraph wires the top-level state machine:
//
//	START -> validate_request -> load_conversation -> route
//	route -(data_only)->     run_query -> synthesize
//	route -(document_only)-> fetch_policy -> synthesize
//	route -(combined)->      fetch_policy -> run_query -> synthesize
//	route -(none)->          synthesize
//	synthesize -(return requested)-> process_return -> persist
//	synthesize -(otherwise)->        persist
//	persist -> finalize_reply -> END
func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_conversation",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadConversation(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_conversation: %w", err)
	}

	if err := graph.AddLambdaNode("route",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Route(ctx, in, o.classifier)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node route: %w", err)
	}

	if err := graph.AddLambdaNode("fetch_policy",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.FetchPolicy(ctx, in, o.retriever)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node fetch_policy: %w", err)
	}

	if err := graph.AddLambdaNode("run_query",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunQuery(ctx, in, o.queries)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_query: %w", err)
	}

	if err := graph.AddLambdaNode("synthesize",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Synthesize(ctx, in, o.synth)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node synthesize: %w", err)
	}

	if err := graph.AddLambdaNode("process_return",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ProcessReturn(ctx, in, o.returns, o.synth)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node process_return: %w", err)
	}

	if err := graph.AddLambdaNode("persist",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Persist(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node persist: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_conversation"},
		{"load_conversation", "route"},
		{"run_query", "synthesize"},
		{"process_return", "persist"},
		{"persist", "finalize_reply"},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	// Exhaustive dispatch over the closed decision set; adding a fifth
	// branch means extending this switch, not patching string comparisons.
	routeBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
			}
			switch in.Decision {
			case contractx.DecisionDataOnly:
				return "run_query", nil
			case contractx.DecisionDocumentOnly, contractx.DecisionCombined:
				return "fetch_policy", nil
			case contractx.DecisionNone:
				return "synthesize", nil
			default:
				return "", fmt.Errorf("%w: unknown routing decision=%q", contractx.ErrValidation, in.Decision)
			}
		},
		map[string]bool{
			"run_query":    true,
			"fetch_policy": true,
			"synthesize":   true,
		},
	)
	if err := graph.AddBranch("route", routeBranch); err != nil {
		return nil, fmt.Errorf("add route branch: %w", err)
	}

	policyBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
			}
			if in.Decision == contractx.DecisionCombined {
				return "run_query", nil
			}
			return "synthesize", nil
		},
		map[string]bool{
			"run_query":  true,
			"synthesize": true,
		},
	)
	if err := graph.AddBranch("fetch_policy", policyBranch); err != nil {
		return nil, fmt.Errorf("add policy branch: %w", err)
	}

	returnBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
			}
			if _, ok := in.Reply.ReturnAction(); ok {
				return "process_return", nil
			}
			return "persist", nil
		},
		map[string]bool{
			"process_return": true,
			"persist":        true,
		},
	)
	if err := graph.AddBranch("synthesize", returnBranch); err != nil {
		return nil, fmt.Errorf("add return branch: %w", err)
	}

	runner, err := graph.Compile(ctx,
		compose.WithGraphName("orchestrator.handle_message"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
	)
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
