package node

import (
	"context"
	"fmt"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
)

// ReturnProcessor consumes one confirmed return action and yields the
// tool-result turn describing its outcome.
type ReturnProcessor interface {
	Process(ctx context.Context, conv *conversation.Log, action contractx.ActionRequest) (contractx.Turn, error)
}

// ProcessReturn runs the state-changing workflow for the return action the
// synthesizer just requested, then funnels back through the synthesizer so
// the user-visible confirmation is worded by one component. The second
// synthesis pass runs with the return tool unbound, so a single confirmed
// request can never trigger two mutations.
func ProcessReturn(ctx context.Context, in *GraphState, wf ReturnProcessor, s contractx.Synthesizer) (*GraphState, error) {
	if in == nil || in.Conv == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrValidation)
	}

	action, ok := in.Reply.ReturnAction()
	if !ok {
		return nil, fmt.Errorf("%w: no return action on reply", contractx.ErrValidation)
	}

	// The workflow authorizes against the history as it stood before this
	// reply, so the action-bearing turn cannot vouch for its own order id.
	// Only afterwards are the request turn and its tool result committed,
	// keeping "one tool-result turn per acted-on action-request, before
	// the next assistant turn" in persisted history.
	result, err := wf.Process(ctx, in.Conv, action)
	if err != nil {
		return nil, err
	}

	if err := in.Conv.Append(in.Reply); err != nil {
		return nil, fmt.Errorf("%w: append return request turn: %v", contractx.ErrValidation, err)
	}
	if err := in.Conv.Append(result); err != nil {
		return nil, fmt.Errorf("%w: append return result turn: %v", contractx.ErrValidation, err)
	}

	confirm, err := s.Synthesize(ctx, contractx.SynthesisRequest{
		Turns:         in.Conv.Turns(),
		PolicyContext: in.PolicyContext,
		AllowReturn:   false,
	})
	if err != nil {
		return nil, err
	}

	in.Reply = confirm
	return in, nil
}
