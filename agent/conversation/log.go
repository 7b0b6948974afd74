package conversation

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

var (
	ErrEmptyThreadID = errors.New("thread id is empty")
	ErrEmptyTurn     = errors.New("turn content and actions are both empty")
)

// Log is the append-only conversation history for one thread. The
// orchestrator is the single writer per turn; every other component gets a
// read view via Turns.
type Log struct {
	ThreadID  string           `json:"thread_id"`
	History   []contractx.Turn `json:"history"`
	UpdatedAt time.Time        `json:"updated_at"`

	// Stage carries the serialized stage-machine state for threads handled
	// by the stage-based variant, so the machine survives a restart along
	// with its transcript. Empty for graph-handled threads.
	Stage json.RawMessage `json:"stage,omitempty"`
}

func NewLog(threadID string, now time.Time) *Log {
	return &Log{
		ThreadID:  threadID,
		UpdatedAt: now.UTC(),
	}
}

// Seed builds a log from an externally supplied prior history, used when a
// stateless client sends its own transcript and the store has none.
func Seed(threadID string, turns []contractx.Turn, now time.Time) *Log {
	l := NewLog(threadID, now)
	l.History = append(l.History, turns...)
	return l
}

func (l *Log) Append(t contractx.Turn) error {
	if strings.TrimSpace(t.Content) == "" && len(t.Actions) == 0 {
		return ErrEmptyTurn
	}
	l.History = append(l.History, t)
	return nil
}

// Turns returns a copy so callers cannot mutate history in place.
func (l *Log) Turns() []contractx.Turn {
	out := make([]contractx.Turn, len(l.History))
	copy(out, l.History)
	return out
}

func (l *Log) Len() int {
	return len(l.History)
}

// LastUserTurn returns the most recent user turn, if any.
func (l *Log) LastUserTurn() (contractx.Turn, bool) {
	for i := len(l.History) - 1; i >= 0; i-- {
		if l.History[i].Role == contractx.RoleUser {
			return l.History[i], true
		}
	}
	return contractx.Turn{}, false
}

// Mentions reports whether the token appears verbatim in any prior turn.
// The return workflow uses it as the in-session authorization check before
// honoring a return action.
func (l *Log) Mentions(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	for _, t := range l.History {
		if strings.Contains(t.Content, token) {
			return true
		}
		for _, a := range t.Actions {
			if strings.Contains(a.StringArg("order_id"), token) {
				return true
			}
		}
	}
	return false
}

func (l *Log) Touch(now time.Time) {
	l.UpdatedAt = now.UTC()
}

func (l *Log) Validate() error {
	if strings.TrimSpace(l.ThreadID) == "" {
		return ErrEmptyThreadID
	}
	return nil
}
