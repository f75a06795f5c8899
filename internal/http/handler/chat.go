package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"homebrain.dev/planner/internal/http/dto"
	"homebrain.dev/planner/internal/session"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves the conversational planning endpoint over the Session
// Facade.
type ChatHandler struct {
	facade *session.Facade
}

func NewChatHandler(facade *session.Facade) *ChatHandler {
	return &ChatHandler{facade: facade}
}

// Chat handles POST /chat. Every FinalResponse the facade produces —
// success, failure, or conversational — maps to 200; only a malformed
// request body or an unhandled internal error reaches 4xx/5xx.
func (h *ChatHandler) Chat(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "chat: invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.facade.Run(ctx, req.ToUserInput())
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "chat: session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process request"})
		return
	}

	c.JSON(http.StatusOK, dto.ToChatResponse(response))
}
