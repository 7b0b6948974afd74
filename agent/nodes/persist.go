package node

import (
	"context"
	"fmt"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
)

// Persist appends the final reply and saves the log. This is the only
// write to the store in a cycle; a turn that failed earlier commits
// nothing.
func Persist(ctx context.Context, in *GraphState, store conversation.Store) (*GraphState, error) {
	if in == nil || in.Conv == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrValidation)
	}

	if err := in.Conv.Append(in.Reply); err != nil {
		return nil, fmt.Errorf("%w: append reply turn: %v", contractx.ErrValidation, err)
	}
	in.Conv.Touch(in.Now)

	if err := store.Save(ctx, in.Conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return in, nil
}
