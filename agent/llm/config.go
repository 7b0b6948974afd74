package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	openrouterx "github.com/polarcommerce/return-agent/pkg/openrouter"
)

// ModelRole identifies which completion-service caller a model serves.
type ModelRole string

const (
	RoleRouter ModelRole = "router"
	RoleQuery  ModelRole = "query"
	RoleAnswer ModelRole = "answer"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	RouterModel       string  `envconfig:"ROUTER_MODEL" split_words:"true"`
	QueryModel        string  `envconfig:"QUERY_MODEL" split_words:"true"`
	AnswerModel       string  `envconfig:"ANSWER_MODEL" split_words:"true"`
	RouterTemperature float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"-1"`
	QueryTemperature  float32 `envconfig:"QUERY_TEMPERATURE" split_words:"true" default:"-1"`
	AnswerTemperature float32 `envconfig:"ANSWER_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(role ModelRole) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch role {
	case RoleRouter:
		if v := strings.TrimSpace(c.RouterModel); v != "" {
			modelName = v
		}
		if c.RouterTemperature >= 0 {
			temp = c.RouterTemperature
		}
	case RoleQuery:
		if v := strings.TrimSpace(c.QueryModel); v != "" {
			modelName = v
		}
		if c.QueryTemperature >= 0 {
			temp = c.QueryTemperature
		}
	case RoleAnswer:
		if v := strings.TrimSpace(c.AnswerModel); v != "" {
			modelName = v
		}
		if c.AnswerTemperature >= 0 {
			temp = c.AnswerTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
