// Package returnflow performs the single state-changing operation of the
// system: marking an order as returned after an explicit user confirmation.
package returnflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
	gatewayx "github.com/polarcommerce/return-agent/agent/gateway"
)

type Workflow struct {
	gateway contractx.Gateway
}

func New(gw contractx.Gateway) (*Workflow, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: gateway is required", contractx.ErrValidation)
	}
	return &Workflow{gateway: gw}, nil
}

// Process consumes one return action and yields exactly one tool-result
// turn for the synthesizer to word. Domain failures (unknown order, failed
// write, unauthorized order id) come back as error turns; only a gateway
// transport fault aborts the whole cycle.
//
// At-most-once: the caller invokes Process for the current assistant
// action-request only, never by re-reading history, and an order that is
// already returned is reported as such without a second write.
func (w *Workflow) Process(ctx context.Context, conv *conversation.Log, action contractx.ActionRequest) (contractx.Turn, error) {
	orderID := action.StringArg("order_id")
	if orderID == "" {
		return contractx.ToolErrorTurn(action.ID, "Erro: pedido não informado na solicitação de devolução."), nil
	}

	// The order must have been discussed in this conversation before a
	// return against it is honored. Callers pass the history as it stood
	// before the action-bearing reply, so the reply cannot vouch for its
	// own order id.
	if conv == nil || !conv.Mentions(orderID) {
		log.Warn().Str("order_id", orderID).Err(contractx.ErrUnauthorizedReturn).Msg("return rejected")
		return contractx.ToolErrorTurn(action.ID,
			fmt.Sprintf("Erro: o pedido %s não foi discutido nesta conversa; confirme o número do pedido antes de solicitar a devolução.", orderID)), nil
	}

	exists, err := w.gateway.Exists(ctx, orderID)
	if err != nil {
		return contractx.Turn{}, fmt.Errorf("check order %s: %w", orderID, err)
	}
	if !exists {
		return contractx.ToolErrorTurn(action.ID,
			fmt.Sprintf("Erro: pedido %s não encontrado no banco de dados.", orderID)), nil
	}

	status, err := w.gateway.Status(ctx, orderID)
	if err != nil && !errors.Is(err, contractx.ErrOrderNotFound) {
		return contractx.Turn{}, fmt.Errorf("read order %s status: %w", orderID, err)
	}
	if strings.EqualFold(status, gatewayx.StatusReturned) {
		return contractx.ToolTurn(action.ID,
			fmt.Sprintf("O pedido %s já está marcado como devolvido; nenhuma alteração adicional foi feita.", orderID)), nil
	}

	if err := w.gateway.UpdateStatus(ctx, orderID, gatewayx.StatusReturned); err != nil {
		if errors.Is(err, contractx.ErrOrderNotFound) {
			return contractx.ToolErrorTurn(action.ID,
				fmt.Sprintf("Erro: pedido %s não encontrado no banco de dados.", orderID)), nil
		}
		if errors.Is(err, contractx.ErrWriteFailed) {
			return contractx.ToolErrorTurn(action.ID,
				fmt.Sprintf("Erro ao processar devolução do pedido %s: %v", orderID, err)), nil
		}
		return contractx.Turn{}, fmt.Errorf("update order %s: %w", orderID, err)
	}

	log.Info().Str("order_id", orderID).Msg("order marked as returned")
	return contractx.ToolTurn(action.ID,
		fmt.Sprintf("Pedido %s foi marcado como devolvido (returned) com sucesso.", orderID)), nil
}
