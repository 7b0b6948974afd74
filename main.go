package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/polarcommerce/return-agent/agent/agents/orchestrator"
	"github.com/polarcommerce/return-agent/agent/agents/queryflow"
	"github.com/polarcommerce/return-agent/agent/agents/returnflow"
	"github.com/polarcommerce/return-agent/agent/agents/router"
	"github.com/polarcommerce/return-agent/agent/agents/stageflow"
	"github.com/polarcommerce/return-agent/agent/agents/synthesizer"
	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
	gatewayx "github.com/polarcommerce/return-agent/agent/gateway"
	llmx "github.com/polarcommerce/return-agent/agent/llm"
	promptx "github.com/polarcommerce/return-agent/agent/prompt"
	retrieverx "github.com/polarcommerce/return-agent/agent/retriever"
	configx "github.com/polarcommerce/return-agent/pkg/config"
	_ "github.com/polarcommerce/return-agent/pkg/logger/autoload"
	openrouterx "github.com/polarcommerce/return-agent/pkg/openrouter"
	"github.com/polarcommerce/return-agent/server"
)

type AppConfig struct {
	// Mode selects the conversational core: "graph" runs the routed
	// language-model pipeline, "stages" runs the model-free stage machine.
	Mode string `envconfig:"AGENT_MODE" default:"graph"`
}

const policySummary = "- Prazo de 30 dias corridos a partir do recebimento para solicitar a devolução.\n" +
	"- Produto nas condições originais, com embalagem e acessórios.\n" +
	"- Produtos com defeito de fabricação têm prazo estendido de 90 dias."

func main() {
	ctx := context.Background()

	appCfg := configx.MustNew[AppConfig]("")
	serverCfg := configx.MustNew[server.Config]("HTTP")
	gatewayCfg := configx.MustNew[gatewayx.Config]("DATABASE")

	gw, err := gatewayx.New(*gatewayCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize order gateway")
	}

	store := newStore()
	policy := newRetriever()

	var agent server.Agent
	switch appCfg.Mode {
	case "stages":
		machine, err := stageflow.NewMachine(gw, nil, policySummary)
		if err != nil {
			log.Fatal().Err(err).Msg("initialize stage machine")
		}
		agent, err = stageflow.NewService(machine, store)
		if err != nil {
			log.Fatal().Err(err).Msg("initialize stage service")
		}
	default:
		agent = newGraphAgent(ctx, gw, store, policy)
	}

	handler, err := server.NewHandler(agent)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize http handler")
	}

	engine := server.NewRouter(handler, *serverCfg)
	log.Info().Str("addr", serverCfg.Addr).Str("agent_mode", appCfg.Mode).Msg("listening")
	if err := engine.Run(serverCfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}

func newGraphAgent(
	ctx context.Context,
	gw *gatewayx.OrderStore,
	store conversation.Store,
	policy contractx.Retriever,
) server.Agent {
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")

	if openrouterx.NewClient(llmCfg.OpenRouterFor(llmx.RoleAnswer)) == nil {
		log.Fatal().Msg("initialize openrouter client")
	}

	registry, err := llmx.NewRegistry(ctx, *llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize model registry")
	}

	prompts := promptx.LoadPromptSet()

	classifier, err := router.New(ctx, registry.Router(), prompts.Router)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize router")
	}

	queries, err := queryflow.New(ctx, registry.Query(), gw, prompts, gw.Dialect(), gw.RowLimit())
	if err != nil {
		log.Fatal().Err(err).Msg("initialize query flow")
	}

	synth, err := synthesizer.New(ctx, registry.Answer(), prompts)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize synthesizer")
	}

	returns, err := returnflow.New(gw)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize return workflow")
	}

	agent, err := orchestrator.New(store, classifier, queries, synth, returns, policy)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize orchestrator")
	}
	return agent
}

// newStore prefers the Upstash Redis transcript store and falls back to the
// in-process store when the Upstash credentials are not configured.
func newStore() conversation.Store {
	redisCfg, err := configx.New[conversation.UpstashRedisConfig]("UPSTASH_REDIS")
	if err != nil {
		log.Warn().Err(err).Msg("upstash redis not configured, using in-memory transcript store")
		return conversation.NewMemoryStore()
	}
	store, err := conversation.NewUpstashRedisStore(*redisCfg)
	if err != nil {
		log.Warn().Err(err).Msg("upstash redis unavailable, using in-memory transcript store")
		return conversation.NewMemoryStore()
	}
	return store
}

// newRetriever prefers the Elasticsearch policy index and falls back to the
// embedded policy document when no addresses are configured.
func newRetriever() contractx.Retriever {
	esCfg, err := configx.New[retrieverx.ElasticConfig]("ELASTICSEARCH")
	if err == nil && esCfg.Enabled() {
		es, err := retrieverx.NewElasticRetriever(*esCfg)
		if err == nil {
			return es
		}
		log.Warn().Err(err).Msg("elasticsearch unavailable, using embedded policy document")
	}
	return retrieverx.NewPolicyDocRetriever()
}
