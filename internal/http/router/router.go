package router

import (
	"net/http"

	"homebrain.dev/planner/internal/http/handler"

	"github.com/gin-gonic/gin"
)

// Handlers bundles every handler SetupRoutes wires in.
type Handlers struct {
	Chat *handler.ChatHandler
}

// SetupRoutes registers the module's entire HTTP surface: health plus the
// conversational planning endpoint.
func SetupRoutes(router *gin.Engine, h Handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ChatRouter(router.Group(""), h.Chat)
}
