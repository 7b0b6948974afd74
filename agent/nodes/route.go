package node

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

// Route derives the routing decision from the latest user turn only. A
// classifier fault aborts the whole turn; only a malformed label inside a
// successful call degrades to the none branch (handled by the classifier).
func Route(ctx context.Context, in *GraphState, classifier contractx.Classifier) (*GraphState, error) {
	if in == nil || in.Conv == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrValidation)
	}

	turn, ok := in.Conv.LastUserTurn()
	if !ok {
		return nil, fmt.Errorf("%w: no user turn to route", contractx.ErrValidation)
	}

	decision, err := classifier.Classify(ctx, turn.Content)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("thread_id", in.ThreadID).Str("decision", string(decision)).Msg("turn routed")
	in.Decision = decision
	return in, nil
}
