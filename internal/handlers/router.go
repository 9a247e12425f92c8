// Package handlers exposes the checkout pipeline over HTTP.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/ratelimit"
)

// NewRouter registers every route on a fresh engine.
func NewRouter(s *app.Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	limit := ratelimit.Middleware(s.Limiter, "api", ratelimit.ByUserOrIP)
	RegisterWebhookRoutes(r, s, limit)
	RegisterOrdersRoutes(r, s, limit)
	RegisterCartRoutes(r, s, limit)
	RegisterReconcileRoutes(r, s)
	return r
}

// internalError answers with a stable code and a generic message; details stay in the log.
func internalError(c *gin.Context, code string) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   code,
		"message": "Something went wrong. Please try again later.",
	})
}
