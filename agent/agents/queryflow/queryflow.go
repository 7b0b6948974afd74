// Package queryflow drives the generate -> check -> execute loop that turns
// a data question into at most one read query against the order store.
package queryflow

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	llmx "github.com/polarcommerce/return-agent/agent/llm"
	promptx "github.com/polarcommerce/return-agent/agent/prompt"
)

// Flow traverses Generating -> Checking -> Executing -> Done at most once
// per user turn, with a short-circuit from Generating straight to Done when
// the model answers without requesting a query.
type Flow struct {
	runner   compose.Runnable[[]*schema.Message, *schema.Message]
	gateway  contractx.Gateway
	prompts  promptx.PromptSet
	dialect  string
	rowLimit int
}

var _ contractx.QueryRunner = (*Flow)(nil)

func New(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	gw contractx.Gateway,
	prompts promptx.PromptSet,
	dialect string,
	rowLimit int,
) (*Flow, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: gateway is required", contractx.ErrValidation)
	}
	if rowLimit <= 0 {
		rowLimit = 5
	}

	toolModel, err := chatModel.WithTools([]*schema.ToolInfo{queryTool()})
	if err != nil {
		return nil, fmt.Errorf("%w: bind query tool: %v", contractx.ErrModelInvoke, err)
	}

	runner, err := llmx.CompileChatGraph(ctx, toolModel, "queryflow.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile query graph: %v", contractx.ErrModelInvoke, err)
	}

	return &Flow{
		runner:   runner,
		gateway:  gw,
		prompts:  prompts,
		dialect:  dialect,
		rowLimit: rowLimit,
	}, nil
}

// Run produces the turns of one loop traversal, in causal order: either a
// single plain assistant turn (the model answered directly), or an
// assistant turn carrying the query action-request followed by exactly one
// tool-result turn with the rows or the execution error.
func (f *Flow) Run(ctx context.Context, history []contractx.Turn) ([]contractx.Turn, error) {
	schemaText, err := f.schemaPreamble(ctx)
	if err != nil {
		return nil, err
	}

	generated, answered, err := f.generate(ctx, history, schemaText)
	if err != nil {
		return nil, err
	}
	if answered != "" {
		return []contractx.Turn{contractx.AssistantTurn(answered)}, nil
	}

	attempt, err := f.check(ctx, generated)
	if err != nil {
		return nil, err
	}

	action := contractx.ActionRequest{
		ID:   generated.ID,
		Name: contractx.ActionRunQuery,
		Args: map[string]any{"query": attempt.Query},
	}
	callTurn := contractx.AssistantTurn("", action)

	result, execErr := f.gateway.Query(ctx, attempt.Query)
	if execErr != nil {
		log.Debug().Str("query", attempt.Query).Err(execErr).Msg("query execution failed")
		return []contractx.Turn{
			callTurn,
			contractx.ToolErrorTurn(action.ID, "Erro ao executar a consulta: "+execErr.Error()),
		}, nil
	}

	return []contractx.Turn{
		callTurn,
		contractx.ToolTurn(action.ID, result),
	}, nil
}

func (f *Flow) schemaPreamble(ctx context.Context) (string, error) {
	tables, err := f.gateway.ListTables(ctx)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	schemaText, err := f.gateway.Schema(ctx, tables)
	if err != nil {
		return "", fmt.Errorf("describe schema: %w", err)
	}
	return schemaText, nil
}

// generate returns either a proposed query action or a plain answer.
func (f *Flow) generate(ctx context.Context, history []contractx.Turn, schemaText string) (contractx.ActionRequest, string, error) {
	messages := append(
		[]*schema.Message{schema.SystemMessage(f.prompts.RenderGenerateQuery(f.dialect, schemaText, f.rowLimit))},
		llmx.ToMessages(history)...,
	)

	msg, err := f.runner.Invoke(ctx, messages)
	if err != nil {
		return contractx.ActionRequest{}, "", fmt.Errorf("%w: generate query invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.ActionRequest{}, "", fmt.Errorf("%w: empty generate response", contractx.ErrSchemaViolation)
	}

	actions, err := llmx.ToActionRequests(msg.ToolCalls)
	if err != nil {
		return contractx.ActionRequest{}, "", err
	}

	if len(actions) == 0 {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			return contractx.ActionRequest{}, "", fmt.Errorf("%w: generate returned neither answer nor query", contractx.ErrSchemaViolation)
		}
		return contractx.ActionRequest{}, content, nil
	}
	if len(actions) > 1 {
		return contractx.ActionRequest{}, "", fmt.Errorf("%w: generate returned %d tool calls, want 1", contractx.ErrSchemaViolation, len(actions))
	}

	action := actions[0]
	if action.Name != contractx.ActionRunQuery {
		return contractx.ActionRequest{}, "", fmt.Errorf("%w: unexpected tool=%s", contractx.ErrSchemaViolation, action.Name)
	}
	if action.StringArg("query") == "" {
		return contractx.ActionRequest{}, "", fmt.Errorf("%w: query argument is empty", contractx.ErrSchemaViolation)
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	return action, "", nil
}

// check audits the proposed query and always yields exactly one query to
// run: the rewrite when the auditor produced one, the original otherwise.
func (f *Flow) check(ctx context.Context, generated contractx.ActionRequest) (contractx.QueryAttempt, error) {
	original := generated.StringArg("query")

	messages := []*schema.Message{
		schema.SystemMessage(f.prompts.RenderCheckQuery(f.dialect)),
		schema.UserMessage(original),
	}

	// Tool choice is forced so the audit names a query instead of prose.
	msg, err := f.runner.Invoke(ctx, messages,
		compose.WithChatModelOption(einomodel.WithToolChoice(schema.ToolChoiceForced)))
	if err != nil {
		return contractx.QueryAttempt{}, fmt.Errorf("%w: check query invoke: %v", contractx.ErrModelInvoke, err)
	}

	checked := original
	if msg != nil {
		actions, convErr := llmx.ToActionRequests(msg.ToolCalls)
		if convErr != nil {
			return contractx.QueryAttempt{}, fmt.Errorf("audit tool call: %w", convErr)
		}
		// Providers that ignore the forced tool choice still yield a
		// runnable query: the original stands unless the audit rewrote it.
		if len(actions) > 0 {
			if q := actions[0].StringArg("query"); q != "" {
				checked = q
			}
		}
	}

	attempt := contractx.QueryAttempt{
		Query:     checked,
		Rewritten: checked != original,
	}
	if attempt.Rewritten {
		log.Debug().Str("original", original).Str("rewritten", checked).Msg("query rewritten by audit")
	}
	return attempt, nil
}

func queryTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: contractx.ActionRunQuery,
		Desc: "Execute a read-only SQL query against the order database and return the rows.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "The SQL query to execute", Required: true},
		}),
	}
}
