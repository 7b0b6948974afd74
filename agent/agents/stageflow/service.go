package stageflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
)

// Service adapts the stage machine to the same handle-message surface the
// graph orchestrator exposes. Machine state is persisted per thread inside
// the stored log, next to the transcript it belongs to, so a restart or a
// second instance resumes from the stage the conversation actually reached.
type Service struct {
	machine *Machine
	store   conversation.Store
	locks   *conversation.ThreadLocker
}

func NewService(machine *Machine, store conversation.Store) (*Service, error) {
	if machine == nil {
		return nil, errors.New("stage machine is required")
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	return &Service{
		machine: machine,
		store:   store,
		locks:   conversation.NewThreadLocker(),
	}, nil
}

func (s *Service) HandleMessage(
	ctx context.Context,
	threadID string,
	text string,
	seed []contractx.Turn,
) (string, []contractx.Turn, error) {
	unlock := s.locks.Lock(threadID)
	defer unlock()

	l, err := s.store.Load(ctx, threadID)
	if err != nil {
		if !errors.Is(err, conversation.ErrThreadNotFound) {
			return "", nil, fmt.Errorf("load conversation: %w", err)
		}
		l = conversation.Seed(threadID, seed, time.Now())
	}

	st := NewState()
	if len(l.Stage) > 0 {
		if err := json.Unmarshal(l.Stage, &st); err != nil {
			return "", nil, fmt.Errorf("%w: decode stage state: %v", contractx.ErrValidation, err)
		}
	}

	next, reply, err := s.machine.Advance(ctx, st, text)
	if err != nil {
		return "", nil, err
	}

	if err := l.Append(contractx.UserTurn(text)); err != nil {
		return "", nil, fmt.Errorf("%w: append user turn: %v", contractx.ErrValidation, err)
	}
	if err := l.Append(contractx.AssistantTurn(reply)); err != nil {
		return "", nil, fmt.Errorf("%w: append reply turn: %v", contractx.ErrValidation, err)
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return "", nil, fmt.Errorf("encode stage state: %w", err)
	}
	l.Stage = encoded

	if err := s.store.Save(ctx, l); err != nil {
		return "", nil, fmt.Errorf("save conversation: %w", err)
	}
	return reply, l.Turns(), nil
}
