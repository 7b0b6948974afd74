// Package stageflow is the simplified fallback rendition of the return
// workflow: a linear stage machine with heuristic identifier extraction
// instead of completion-service action requests. It needs no language
// model at all.
package stageflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	gatewayx "github.com/polarcommerce/return-agent/agent/gateway"
)

type Stage string

const (
	StageGreeting        Stage = "greeting"
	StagePolicyInfo      Stage = "policy_info"
	StageConditionsCheck Stage = "conditions_check"
	StageOrderSelection  Stage = "order_selection"
	StageConfirmation    Stage = "confirmation"
	StageCompletion      Stage = "completion"
)

// State is the explicit per-thread machine state: a stage advanced
// monotonically forward except for the two backward edges (failed ID lookup
// -> conditions_check, failed update -> order_selection).
type State struct {
	Stage   Stage  `json:"stage"`
	OrderID string `json:"order_id,omitempty"`
}

func NewState() State {
	return State{Stage: StageGreeting}
}

// Machine advances one stage per user message. It shares the order-store
// gateway with the graph-based core but never calls the completion service.
type Machine struct {
	gateway   contractx.Gateway
	extractor Extractor
	policy    string
}

func NewMachine(gw contractx.Gateway, ex Extractor, policySummary string) (*Machine, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: gateway is required", contractx.ErrValidation)
	}
	if ex == nil {
		ex = NewRegexExtractor(DefaultMinIDLength)
	}
	return &Machine{gateway: gw, extractor: ex, policy: policySummary}, nil
}

// Advance consumes one user message and returns the next state plus the
// reply. Gateway transport faults are returned as errors and leave the
// state unchanged for the caller.
func (m *Machine) Advance(ctx context.Context, st State, text string) (State, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return st, "", fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	}

	switch st.Stage {
	case StageGreeting, "":
		st.Stage = StagePolicyInfo
		return st, "Olá! Sou o assistente de devoluções da Polar E-commerce. " +
			"Posso ajudar com a devolução de um pedido. Gostaria de conhecer a política de devolução?", nil

	case StagePolicyInfo:
		st.Stage = StageConditionsCheck
		reply := "Nossa política de devolução em resumo:\n" + m.policy +
			"\n\nSeu pedido atende às condições acima?"
		return st, reply, nil

	case StageConditionsCheck:
		st.Stage = StageOrderSelection
		return st, "Perfeito. Qual é o número do pedido que deseja devolver?", nil

	case StageOrderSelection:
		orderID, ok := m.extractor.Extract(text)
		if !ok {
			// failed ID lookup: back to conditions_check
			st.Stage = StageConditionsCheck
			return st, "Não consegui identificar um número de pedido na sua mensagem. " +
				"Vamos recomeçar: seu pedido atende às condições da política de devolução?", nil
		}

		exists, err := m.gateway.Exists(ctx, orderID)
		if err != nil {
			return st, "", fmt.Errorf("check order %s: %w", orderID, err)
		}
		if !exists {
			st.Stage = StageConditionsCheck
			st.OrderID = ""
			return st, fmt.Sprintf("Não encontrei o pedido %s no banco de dados. "+
				"Verifique o número e vamos recomeçar: seu pedido atende às condições da política?", orderID), nil
		}

		st.OrderID = orderID
		st.Stage = StageConfirmation
		return st, fmt.Sprintf("Encontrei o pedido %s. Confirma a devolução? (sim/não)", orderID), nil

	case StageConfirmation:
		if !isAffirmative(text) {
			st.Stage = StageCompletion
			return st, "Sem problemas, a devolução não foi processada. Posso ajudar com mais alguma coisa?", nil
		}

		if err := m.gateway.UpdateStatus(ctx, st.OrderID, gatewayx.StatusReturned); err != nil {
			log.Warn().Str("order_id", st.OrderID).Err(err).Msg("stage flow update failed")
			// failed update: back to order_selection
			st.Stage = StageOrderSelection
			st.OrderID = ""
			return st, "Houve um problema ao processar a devolução. " +
				"Pode me informar novamente o número do pedido?", nil
		}

		orderID := st.OrderID
		st.Stage = StageCompletion
		return st, fmt.Sprintf("Pronto! O pedido %s foi marcado como devolvido. "+
			"Você receberá o código de postagem por e-mail.", orderID), nil

	case StageCompletion:
		return st, "Este atendimento foi concluído. Envie uma nova mensagem para iniciar outra devolução.", nil

	default:
		return st, "", fmt.Errorf("%w: unknown stage=%q", contractx.ErrValidation, st.Stage)
	}
}

func isAffirmative(text string) bool {
	t := strings.ToLower(text)
	for _, marker := range []string{"sim", "quero", "confirmo", "pode devolver", "yes"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
