package node

import (
	"context"
	"fmt"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

// Synthesize produces the cycle's assistant turn from full history plus the
// ephemeral policy context. The reply is held in state; it is appended and
// persisted only once the cycle can no longer fail.
func Synthesize(ctx context.Context, in *GraphState, s contractx.Synthesizer) (*GraphState, error) {
	if in == nil || in.Conv == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrValidation)
	}

	reply, err := s.Synthesize(ctx, contractx.SynthesisRequest{
		Turns:         in.Conv.Turns(),
		PolicyContext: in.PolicyContext,
		AllowReturn:   true,
	})
	if err != nil {
		return nil, err
	}

	in.Reply = reply
	return in, nil
}
