package node

import (
	"context"
	"fmt"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

// RunQuery executes one generate -> check -> execute traversal and appends
// its turns to the working conversation in causal order.
func RunQuery(ctx context.Context, in *GraphState, runner contractx.QueryRunner) (*GraphState, error) {
	if in == nil || in.Conv == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrValidation)
	}

	turns, err := runner.Run(ctx, in.Conv.Turns())
	if err != nil {
		return nil, err
	}

	for _, t := range turns {
		if err := in.Conv.Append(t); err != nil {
			return nil, fmt.Errorf("%w: append query turn: %v", contractx.ErrValidation, err)
		}
	}
	return in, nil
}
