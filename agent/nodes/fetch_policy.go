package node

import (
	"context"
	"fmt"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	retrieverx "github.com/polarcommerce/return-agent/agent/retriever"
)

// FetchPolicy loads policy text for the current question. The result lives
// only in this invocation's state; the branch recomputes it every time it
// runs.
func FetchPolicy(ctx context.Context, in *GraphState, r contractx.Retriever) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	chunks, err := r.Fetch(ctx, in.Text)
	if err != nil {
		return nil, fmt.Errorf("fetch policy context: %w", err)
	}

	in.PolicyContext = retrieverx.Join(chunks)
	return in, nil
}
