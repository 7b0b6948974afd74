// Package orchestrator owns the top-level state machine. One invocation
// processes exactly one user turn to completion; the only state surviving
// between invocations is the conversation log, keyed by thread id.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
	nodex "github.com/polarcommerce/return-agent/agent/nodes"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidThread  = nodex.ErrInvalidThread
)

type Orchestrator struct {
	store      conversation.Store
	classifier contractx.Classifier
	queries    contractx.QueryRunner
	synth      contractx.Synthesizer
	returns    nodex.ReturnProcessor
	retriever  contractx.Retriever

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	// locks serializes invocations per thread id so overlapping requests
	// on one conversation cannot interleave (and a return can never be
	// double-processed by two racing turns).
	locks *conversation.ThreadLocker

	now func() time.Time
}

func New(
	store conversation.Store,
	classifier contractx.Classifier,
	queries contractx.QueryRunner,
	synth contractx.Synthesizer,
	returns nodex.ReturnProcessor,
	retriever contractx.Retriever,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if queries == nil {
		return nil, errors.New("query runner is required")
	}
	if synth == nil {
		return nil, errors.New("synthesizer is required")
	}
	if returns == nil {
		return nil, errors.New("return workflow is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}

	o := &Orchestrator{
		store:      store,
		classifier: classifier,
		queries:    queries,
		synth:      synth,
		returns:    returns,
		retriever:  retriever,
		locks:      conversation.NewThreadLocker(),
		now:        time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage processes one inbound user message to a terminal state and
// returns the assistant reply plus the updated history. seed is the
// client-supplied prior transcript, honored only when the store has no log
// for the thread.
func (o *Orchestrator) HandleMessage(
	ctx context.Context,
	threadID string,
	text string,
	seed []contractx.Turn,
) (string, []contractx.Turn, error) {
	unlock := o.locks.Lock(threadID)
	defer unlock()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		ThreadID: threadID,
		Text:     text,
		Seed:     seed,
	})
	if err != nil {
		return "", nil, err
	}
	return out.Reply, out.History, nil
}
