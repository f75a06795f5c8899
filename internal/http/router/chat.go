package router

import (
	"homebrain.dev/planner/internal/http/handler"

	"github.com/gin-gonic/gin"
)

func ChatRouter(rg *gin.RouterGroup, h *handler.ChatHandler) {
	rg.POST("/chat", h.Chat)
}
