package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	promptx "github.com/polarcommerce/return-agent/agent/prompt"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int

	lastInput []*schema.Message
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

func TestSynthesizePlainAnswer(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "Olá! Como posso ajudar?"}},
	}
	s, err := New(context.Background(), fake, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	turn, err := s.Synthesize(context.Background(), contractx.SynthesisRequest{
		Turns:       []contractx.Turn{contractx.UserTurn("oi")},
		AllowReturn: true,
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if turn.Role != contractx.RoleAssistant {
		t.Fatalf("Role = %v", turn.Role)
	}
	if turn.Content != "Olá! Como posso ajudar?" {
		t.Fatalf("Content = %q", turn.Content)
	}
	if len(turn.Actions) != 0 {
		t.Fatalf("Actions = %#v, want none", turn.Actions)
	}
}

func TestSynthesizeReturnAction(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID: "call-1",
				Function: schema.FunctionCall{
					Name:      contractx.ActionProcessReturn,
					Arguments: `{"order_id":"abc123456"}`,
				},
			}},
		}},
	}
	s, err := New(context.Background(), fake, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	turn, err := s.Synthesize(context.Background(), contractx.SynthesisRequest{
		Turns:       []contractx.Turn{contractx.UserTurn("sim, confirmo a devolução do abc123456")},
		AllowReturn: true,
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	action, ok := turn.ReturnAction()
	if !ok {
		t.Fatal("ReturnAction() not found")
	}
	if action.StringArg("order_id") != "abc123456" {
		t.Fatalf("order_id = %q", action.StringArg("order_id"))
	}
}

func TestSynthesizeReturnActionWithoutOrderIDFails(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call-1",
				Function: schema.FunctionCall{Name: contractx.ActionProcessReturn, Arguments: `{}`},
			}},
		}},
	}
	s, err := New(context.Background(), fake, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = s.Synthesize(context.Background(), contractx.SynthesisRequest{
		Turns:       []contractx.Turn{contractx.UserTurn("quero devolver")},
		AllowReturn: true,
	})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("Synthesize() error = %v, want ErrSchemaViolation", err)
	}
}

func TestSynthesizeUnexpectedToolFails(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call-1",
				Function: schema.FunctionCall{Name: "delete_everything", Arguments: `{}`},
			}},
		}},
	}
	s, err := New(context.Background(), fake, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = s.Synthesize(context.Background(), contractx.SynthesisRequest{
		Turns:       []contractx.Turn{contractx.UserTurn("oi")},
		AllowReturn: true,
	})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("Synthesize() error = %v, want ErrSchemaViolation", err)
	}
}

func TestSynthesizeInjectsPolicyContext(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "resposta"}},
	}
	s, err := New(context.Background(), fake, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = s.Synthesize(context.Background(), contractx.SynthesisRequest{
		Turns:         []contractx.Turn{contractx.UserTurn("qual a política?")},
		PolicyContext: "[Prazo]\n30 dias corridos.",
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	if len(fake.lastInput) == 0 || fake.lastInput[0].Role != schema.System {
		t.Fatalf("first message is not the system prompt: %#v", fake.lastInput)
	}
	if !strings.Contains(fake.lastInput[0].Content, "30 dias corridos") {
		t.Fatal("policy context not injected into system prompt")
	}
}

func TestSynthesizeEmptyTurnFails(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "   "}},
	}
	s, err := New(context.Background(), fake, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = s.Synthesize(context.Background(), contractx.SynthesisRequest{
		Turns: []contractx.Turn{contractx.UserTurn("oi")},
	})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("Synthesize() error = %v, want ErrSchemaViolation", err)
	}
}
