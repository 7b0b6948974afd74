package node

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrInvalidThread)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrInvalidMessage)
	}

	now := time.Now
	if nowFn != nil {
		now = nowFn
	}

	return &GraphState{
		ThreadID: threadID,
		Text:     text,
		Now:      now(),
		Seed:     in.Seed,
	}, nil
}
