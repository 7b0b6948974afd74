// Package synthesizer produces the final assistant turn of each cycle and
// is the only component authorized to request the order-return action.
package synthesizer

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	llmx "github.com/polarcommerce/return-agent/agent/llm"
	promptx "github.com/polarcommerce/return-agent/agent/prompt"
)

type Synthesizer struct {
	plainRunner compose.Runnable[[]*schema.Message, *schema.Message]
	toolRunner  compose.Runnable[[]*schema.Message, *schema.Message]
	prompts     promptx.PromptSet
}

var _ contractx.Synthesizer = (*Synthesizer)(nil)

func New(ctx context.Context, chatModel einomodel.ToolCallingChatModel, prompts promptx.PromptSet) (*Synthesizer, error) {
	plainRunner, err := llmx.CompileChatGraph(ctx, chatModel, "synthesizer.plain_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile plain answer graph: %v", contractx.ErrModelInvoke, err)
	}

	toolModel, err := chatModel.WithTools([]*schema.ToolInfo{returnTool()})
	if err != nil {
		return nil, fmt.Errorf("%w: bind return tool: %v", contractx.ErrModelInvoke, err)
	}
	toolRunner, err := llmx.CompileChatGraph(ctx, toolModel, "synthesizer.tool_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile tool answer graph: %v", contractx.ErrModelInvoke, err)
	}

	return &Synthesizer{
		plainRunner: plainRunner,
		toolRunner:  toolRunner,
		prompts:     prompts,
	}, nil
}

// Synthesize merges the conversation with the per-turn policy context into
// one assistant turn. The return tool is only bound on the first pass of a
// cycle; the confirmation pass after a processed return runs without it.
func (s *Synthesizer) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (contractx.Turn, error) {
	messages := append(
		[]*schema.Message{schema.SystemMessage(s.prompts.RenderAnswer(req.PolicyContext))},
		llmx.ToMessages(req.Turns)...,
	)

	runner := s.plainRunner
	if req.AllowReturn {
		runner = s.toolRunner
	}

	msg, err := runner.Invoke(ctx, messages)
	if err != nil {
		return contractx.Turn{}, fmt.Errorf("%w: synthesizer invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.Turn{}, fmt.Errorf("%w: empty synthesizer response", contractx.ErrSchemaViolation)
	}

	actions, err := llmx.ToActionRequests(msg.ToolCalls)
	if err != nil {
		return contractx.Turn{}, err
	}
	for i, a := range actions {
		if a.Name != contractx.ActionProcessReturn {
			return contractx.Turn{}, fmt.Errorf("%w: unexpected tool=%s", contractx.ErrSchemaViolation, a.Name)
		}
		if a.StringArg("order_id") == "" {
			return contractx.Turn{}, fmt.Errorf("%w: return action without order_id", contractx.ErrSchemaViolation)
		}
		if a.ID == "" {
			actions[i].ID = uuid.NewString()
		}
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" && len(actions) == 0 {
		return contractx.Turn{}, fmt.Errorf("%w: synthesizer returned empty turn", contractx.ErrSchemaViolation)
	}

	return contractx.Turn{
		Role:    contractx.RoleAssistant,
		Content: content,
		Actions: actions,
	}, nil
}

func returnTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: contractx.ActionProcessReturn,
		Desc: "Atualiza o status de um pedido para 'returned' (devolvido) no banco de dados. Use esta ferramenta quando o usuário confirmar que deseja devolver ou cancelar um pedido específico.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"order_id": {Type: schema.String, Desc: "ID do pedido a ser devolvido", Required: true},
		}),
	}
}
