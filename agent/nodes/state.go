// Package node holds the per-invocation working state and the node
// functions the orchestrator graph wires together. Everything in GraphState
// except the conversation log is scoped to a single invocation.
package node

import (
	"errors"
	"time"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidThread  = errors.New("thread id is empty")
)

type GraphInput struct {
	ThreadID string
	Text     string

	// Seed is the client-supplied prior history; used only when the store
	// has no log for the thread.
	Seed []contractx.Turn
}

type GraphOutput struct {
	Reply   string
	History []contractx.Turn
}

type GraphState struct {
	ThreadID string
	Text     string
	Now      time.Time
	Seed     []contractx.Turn

	Conv          *conversation.Log
	Decision      contractx.RoutingDecision
	PolicyContext string

	Reply contractx.Turn
}
