// Package router classifies each inbound user turn into one of the four
// processing branches. It encodes only the decision table; the labeling
// itself is delegated to the completion service.
package router

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	llmx "github.com/polarcommerce/return-agent/agent/llm"
)

type routerLLMOutput struct {
	Decision string `json:"decision"`
}

type Router struct {
	runner compose.Runnable[map[string]any, routerLLMOutput]
}

var _ contractx.Classifier = (*Router)(nil)

func New(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*Router, error) {
	runner, err := llmx.CompileStructuredGraph[routerLLMOutput](ctx, chatModel, systemPrompt, "router.classify_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile router graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Router{runner: runner}, nil
}

// Classify maps the latest user turn to a routing decision. Only a
// malformed-but-returned label degrades to DecisionNone; a failed call is
// surfaced so the orchestrator aborts the turn instead of guessing.
func (r *Router) Classify(ctx context.Context, text string) (contractx.RoutingDecision, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: user message is required", contractx.ErrValidation)
	}

	out, err := r.runner.Invoke(ctx, map[string]any{
		"input": text,
	})
	if err != nil {
		return "", fmt.Errorf("%w: router invoke: %v", contractx.ErrClassification, err)
	}

	decision, ok := contractx.ParseRoutingDecision(out.Decision)
	if !ok {
		log.Warn().Str("label", out.Decision).Msg("router returned unknown label, defaulting to none")
	}
	return decision, nil
}
