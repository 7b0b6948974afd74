package llm

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

// Registry hands out one chat model per completion-service role.
type Registry struct {
	router einomodel.ToolCallingChatModel
	query  einomodel.ToolCallingChatModel
	answer einomodel.ToolCallingChatModel
}

func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	build := func(role ModelRole) (einomodel.ToolCallingChatModel, error) {
		orCfg := cfg.OpenRouterFor(role)
		m, err := orCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: build %s model: %v", contractx.ErrModelInvoke, role, err)
		}
		return m, nil
	}

	router, err := build(RoleRouter)
	if err != nil {
		return nil, err
	}
	query, err := build(RoleQuery)
	if err != nil {
		return nil, err
	}
	answer, err := build(RoleAnswer)
	if err != nil {
		return nil, err
	}

	return &Registry{router: router, query: query, answer: answer}, nil
}

func (r *Registry) Router() einomodel.ToolCallingChatModel { return r.router }
func (r *Registry) Query() einomodel.ToolCallingChatModel  { return r.query }
func (r *Registry) Answer() einomodel.ToolCallingChatModel { return r.answer }
