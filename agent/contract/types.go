package contract

import "strings"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// RoutingDecision selects which processing branches run for one user turn.
type RoutingDecision string

const (
	DecisionDataOnly     RoutingDecision = "data_only"
	DecisionDocumentOnly RoutingDecision = "document_only"
	DecisionCombined     RoutingDecision = "combined"
	DecisionNone         RoutingDecision = "none"
)

// ParseRoutingDecision normalizes a raw classifier label against the closed
// label set. Unrecognized values map to DecisionNone.
func ParseRoutingDecision(raw string) (RoutingDecision, bool) {
	switch RoutingDecision(strings.ToLower(strings.TrimSpace(raw))) {
	case DecisionDataOnly:
		return DecisionDataOnly, true
	case DecisionDocumentOnly:
		return DecisionDocumentOnly, true
	case DecisionCombined:
		return DecisionCombined, true
	case DecisionNone:
		return DecisionNone, true
	default:
		return DecisionNone, false
	}
}

// Action names the completion service may request.
const (
	ActionRunQuery      = "run_sql_query"
	ActionProcessReturn = "process_order_return"
)

// ActionRequest is a structured instruction emitted by the completion
// service in place of, or alongside, free text.
type ActionRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (a ActionRequest) StringArg(key string) string {
	if a.Args == nil {
		return ""
	}
	v, ok := a.Args[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Turn is one message in a conversation. Immutable once appended.
type Turn struct {
	Role    Role            `json:"role"`
	Content string          `json:"content"`
	Actions []ActionRequest `json:"actions,omitempty"`

	// ActionID links a tool turn back to the action request it answers.
	ActionID string `json:"action_id,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
}

func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

func AssistantTurn(content string, actions ...ActionRequest) Turn {
	return Turn{Role: RoleAssistant, Content: content, Actions: actions}
}

func ToolTurn(actionID, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ActionID: actionID}
}

func ToolErrorTurn(actionID, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ActionID: actionID, IsError: true}
}

// ReturnAction returns the order id named by a process_order_return
// request, if the turn carries one.
func (t Turn) ReturnAction() (ActionRequest, bool) {
	for _, a := range t.Actions {
		if a.Name == ActionProcessReturn {
			return a, true
		}
	}
	return ActionRequest{}, false
}

// QueryAttempt is one candidate query plus its validation and execution
// outcome. Scoped to a single orchestrator invocation, never persisted.
type QueryAttempt struct {
	Query     string
	Rewritten bool
	Result    string
	Err       error
}

// SynthesisRequest carries everything the answer synthesizer may use:
// the full history plus the ephemeral per-turn context blobs.
type SynthesisRequest struct {
	Turns         []Turn
	PolicyContext string

	// AllowReturn gates the return tool; the confirmation pass after a
	// processed return runs with it disabled so one confirmed request
	// can never trigger two mutations.
	AllowReturn bool
}
