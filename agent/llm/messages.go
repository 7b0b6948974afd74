package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

// ToMessages renders conversation turns as chat messages, preserving
// tool-call linkage so the model sees action requests and their results.
func ToMessages(turns []contractx.Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case contractx.RoleUser:
			out = append(out, schema.UserMessage(t.Content))
		case contractx.RoleAssistant:
			out = append(out, schema.AssistantMessage(t.Content, toToolCalls(t.Actions)))
		case contractx.RoleTool:
			out = append(out, schema.ToolMessage(t.Content, t.ActionID))
		}
	}
	return out
}

func toToolCalls(actions []contractx.ActionRequest) []schema.ToolCall {
	if len(actions) == 0 {
		return nil
	}
	calls := make([]schema.ToolCall, 0, len(actions))
	for _, a := range actions {
		args := "{}"
		if len(a.Args) > 0 {
			if raw, err := json.Marshal(a.Args); err == nil {
				args = string(raw)
			}
		}
		calls = append(calls, schema.ToolCall{
			ID: a.ID,
			Function: schema.FunctionCall{
				Name:      a.Name,
				Arguments: args,
			},
		})
	}
	return calls
}

// ToActionRequests converts model tool calls into action requests,
// rejecting calls with empty names or undecodable arguments.
func ToActionRequests(calls []schema.ToolCall) ([]contractx.ActionRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ActionRequest, 0, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}

		reqs = append(reqs, contractx.ActionRequest{
			ID:   call.ID,
			Name: name,
			Args: args,
		})
	}
	return reqs, nil
}
