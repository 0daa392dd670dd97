// Package routes wires the HTTP surface of the orchestrator service.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medgpt-dev/medgpt/services/orchestrator/handlers"
)

// SetupRoutes registers all endpoints on the router.
//
// /chat and /chat/stream share the same dependency bundle so they see
// one session store, one limiter, and one breaker.
func SetupRoutes(router *gin.Engine, deps handlers.ChatDeps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/chat", handlers.HandleChat(deps))
	router.POST("/chat/stream", handlers.HandleChatStream(deps))
}
