package node

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
)

// LoadConversation fetches the thread's log, seeding from client-supplied
// history only when the store has none, and appends the inbound user turn
// to the working copy. Nothing is saved until the reply is fully formed.
func LoadConversation(ctx context.Context, in *GraphState, store conversation.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	l, err := store.Load(ctx, in.ThreadID)
	if err != nil {
		if !errors.Is(err, conversation.ErrThreadNotFound) {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		l = conversation.Seed(in.ThreadID, in.Seed, in.Now)
	}

	if err := l.Append(contractx.UserTurn(in.Text)); err != nil {
		return nil, fmt.Errorf("%w: append user turn: %v", contractx.ErrValidation, err)
	}

	in.Conv = l
	return in, nil
}
