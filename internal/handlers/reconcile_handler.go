package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/auth"
)

// RegisterReconcileRoutes registers the operator diagnostics. All routes need an admin token.
func RegisterReconcileRoutes(r *gin.Engine, s *app.Services) {
	g := r.Group("/reconcile", s.Auth.Required(), auth.RequireRole(auth.RoleAdmin))

	g.GET("/orphaned", func(c *gin.Context) {
		out, err := s.Console.ListOrphaned(c.Request.Context())
		if err != nil {
			log.Printf("[reconcile] orphaned: %v", err)
			internalError(c, "reconcile_failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(out), "orphaned": out})
	})

	g.GET("/payment/:orderNumber", func(c *gin.Context) {
		out, err := s.Console.PaymentStatus(c.Request.Context(), c.Param("orderNumber"))
		if err != nil {
			log.Printf("[reconcile] payment %s: %v", c.Param("orderNumber"), err)
			internalError(c, "reconcile_failed")
			return
		}
		c.JSON(http.StatusOK, out)
	})

	g.GET("/report", func(c *gin.Context) {
		out, err := s.Console.Report(c.Request.Context())
		if err != nil {
			log.Printf("[reconcile] report: %v", err)
			internalError(c, "reconcile_failed")
			return
		}
		c.JSON(http.StatusOK, out)
	})

	g.POST("/recover/:orderNumber", func(c *gin.Context) {
		out, err := s.Console.AttemptRecovery(c.Request.Context(), c.Param("orderNumber"))
		if err != nil {
			log.Printf("[reconcile] recover %s: %v", c.Param("orderNumber"), err)
			internalError(c, "reconcile_failed")
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
