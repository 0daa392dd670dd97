// Package middleware provides HTTP middleware for the orchestrator
// service.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS allows browser front ends on any origin to call the API.
//
// # Description
//
// The assistant UI is served separately from the orchestrator during
// development, so the API answers preflight requests permissively.
// Tighten the origin list before exposing the service publicly.
//
// # Outputs
//
//   - gin.HandlerFunc that sets CORS headers and short-circuits OPTIONS.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
