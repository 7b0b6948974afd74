// Package server exposes the chat agent over HTTP. The core's only
// obligation here is to accept a thread id plus a prior history and to
// return the updated history with the new assistant reply.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

// Agent is the handle-message surface shared by the graph orchestrator and
// the stage-flow service.
type Agent interface {
	HandleMessage(ctx context.Context, threadID, text string, seed []contractx.Turn) (string, []contractx.Turn, error)
}

type Config struct {
	Addr string `envconfig:"ADDR" split_words:"true" default:":8000"`
	Mode string `envconfig:"MODE" split_words:"true" default:"release"`
}

type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message             string        `json:"message" binding:"required"`
	ConversationHistory []ChatMessage `json:"conversation_history"`
	ThreadID            string        `json:"thread_id"`
}

type ChatResponse struct {
	Message             string        `json:"message"`
	ConversationHistory []ChatMessage `json:"conversation_history"`
	ThreadID            string        `json:"thread_id"`
	Status              string        `json:"status"`
}

type Handler struct {
	agent Agent
}

func NewHandler(agent Agent) (*Handler, error) {
	if agent == nil {
		return nil, errors.New("agent is required")
	}
	return &Handler{agent: agent}, nil
}

func NewRouter(h *Handler, cfg Config) *gin.Engine {
	gin.SetMode(ginMode(cfg.Mode))
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)
	r.POST("/chat", h.Chat)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "detail": err.Error()})
		return
	}

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	reply, history, err := h.agent.HandleMessage(c.Request.Context(), threadID, req.Message, toTurns(req.ConversationHistory))
	if err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "detail": err.Error()})
			return
		}
		// Collaborator faults never cross this boundary with internals
		// attached; the turn failed as a whole and history is untouched.
		log.Error().Str("thread_id", threadID).Err(err).Msg("turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"detail": "não foi possível processar a mensagem, tente novamente",
		})
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		Message:             reply,
		ConversationHistory: toMessages(history),
		ThreadID:            threadID,
		Status:              "success",
	})
}

func toTurns(msgs []ChatMessage) []contractx.Turn {
	if len(msgs) == 0 {
		return nil
	}
	turns := make([]contractx.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := contractx.Role(strings.ToLower(strings.TrimSpace(m.Role)))
		switch role {
		case contractx.RoleUser, contractx.RoleAssistant:
		default:
			// external transcripts may only seed user/assistant turns
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, contractx.Turn{Role: role, Content: m.Content})
	}
	return turns
}

func toMessages(turns []contractx.Turn) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		if t.Role == contractx.RoleTool || (t.Content == "" && len(t.Actions) > 0) {
			// tool plumbing stays internal to the agent
			continue
		}
		msgs = append(msgs, ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}

func ginMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case gin.DebugMode:
		return gin.DebugMode
	case gin.TestMode:
		return gin.TestMode
	default:
		return gin.ReleaseMode
	}
}
