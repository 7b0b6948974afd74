package node

import (
	"fmt"
	"strings"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Conv == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply.Content)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: synthesizer returned empty reply", contractx.ErrValidation)
	}

	return GraphOutput{
		Reply:   reply,
		History: in.Conv.Turns(),
	}, nil
}
