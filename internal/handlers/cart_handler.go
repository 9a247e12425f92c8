package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/auth"
	"github.com/imrishuroy/go-checkout-pipeline/internal/cart"
	"github.com/imrishuroy/go-checkout-pipeline/internal/validation"
)

// SessionClearHeader tells the client to drop its stored guest session id.
const SessionClearHeader = "X-Cart-Session-Clear"

// RegisterCartRoutes registers the cart endpoints and the post-login migration.
func RegisterCartRoutes(r *gin.Engine, s *app.Services, limit gin.HandlerFunc) {
	h := &cartHandler{s: s}

	g := r.Group("/cart", s.Auth.Optional(), limit)
	g.GET("", h.list)
	g.POST("/items", h.add)
	g.DELETE("/items/:productId", h.remove)
	g.POST("/abandon", h.abandon)
	g.GET("/ws", h.ws)

	r.POST("/cart/migrate", s.Auth.Required(), limit, h.migrate)
}

type cartHandler struct {
	s *app.Services
}

// headerIdentity reads the guest session from the request and clears it through the response.
type headerIdentity struct {
	c *gin.Context
}

func (h headerIdentity) GuestSessionID(context.Context) (string, bool) {
	id := h.c.GetHeader(SessionHeader)
	return id, id != ""
}

func (h headerIdentity) ClearGuestSession(context.Context) error {
	h.c.Header(SessionClearHeader, "1")
	return nil
}

func (h *cartHandler) owner(c *gin.Context) (cart.Owner, bool) {
	o, err := cart.ResolveOwner(c.Request.Context(), c.GetString(auth.UserIDKey), headerIdentity{c})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cart_owner_required", "message": "Sign in or send " + SessionHeader + "."})
		return cart.Owner{}, false
	}
	return o, true
}

func (h *cartHandler) list(c *gin.Context) {
	o, ok := h.owner(c)
	if !ok {
		return
	}
	items, err := h.s.Cart.Items(c.Request.Context(), o)
	if err != nil {
		log.Printf("[cart] list %s: %v", o, err)
		internalError(c, "cart_unavailable")
		return
	}
	c.JSON(http.StatusOK, cartBody(items))
}

func (h *cartHandler) add(c *gin.Context) {
	o, ok := h.owner(c)
	if !ok {
		return
	}
	var req validation.AddCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.s.Validate); err != nil {
		return
	}

	_, err := h.s.Cart.AddItem(c.Request.Context(), o, req.ProductID, req.Quantity)
	switch {
	case errors.Is(err, cart.ErrUnknownProduct):
		c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
		return
	case errors.Is(err, cart.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_quantity", "message": "Quantity must be between 1 and 999."})
		return
	case errors.Is(err, cart.ErrCartFull):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cart_full", "message": "Your cart has reached its line limit."})
		return
	case err != nil:
		log.Printf("[cart] add %s to %s: %v", req.ProductID, o, err)
		internalError(c, "cart_update_failed")
		return
	}
	h.refresh(c, o, http.StatusOK)
}

func (h *cartHandler) remove(c *gin.Context) {
	o, ok := h.owner(c)
	if !ok {
		return
	}
	if err := h.s.Cart.RemoveItem(c.Request.Context(), o, c.Param("productId")); err != nil {
		log.Printf("[cart] remove %s from %s: %v", c.Param("productId"), o, err)
		internalError(c, "cart_update_failed")
		return
	}
	h.refresh(c, o, http.StatusOK)
}

type abandonRequest struct {
	Reason string `json:"reason" validate:"required,oneof=tab_hidden navigation timeout"`
}

// abandon marks the browser session abandoned; the first report wins.
func (h *cartHandler) abandon(c *gin.Context) {
	sid := c.GetHeader(SessionHeader)
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cart_owner_required", "message": "Send " + SessionHeader + "."})
		return
	}
	var req abandonRequest
	if err := validation.BindAndValidate(c, &req, h.s.Validate); err != nil {
		return
	}
	if err := h.s.Cart.TransitionAbandoned(c.Request.Context(), sid, req.Reason); err != nil {
		log.Printf("[cart] abandon %s: %v", sid, err)
		internalError(c, "cart_update_failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *cartHandler) ws(c *gin.Context) {
	o, ok := h.owner(c)
	if !ok {
		return
	}
	h.s.Hub.Serve(c, o.Key())
}

// migrate moves the guest cart into the signed-in user's cart. On failure the guest
// session stays on the client so the next sign-in retries.
func (h *cartHandler) migrate(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(auth.UserIDKey)

	summary, err := h.s.Migrator.Migrate(ctx, userID, headerIdentity{c})
	if err != nil {
		log.Printf("[cart] migrate for user %s failed: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "sync_failed",
			"message": "We couldn't sync your cart. Please refresh and try again.",
		})
		return
	}
	if summary.GuestSessionID != "" && summary.Merged+summary.Migrated > 0 {
		h.refresh(c, cart.UserOwner(userID), 0)
	}
	c.JSON(http.StatusOK, summary)
}

// refresh recomputes the session aggregates and pushes the cart to connected clients.
// A non-zero status also writes the cart as the response.
func (h *cartHandler) refresh(c *gin.Context, o cart.Owner, status int) {
	ctx := c.Request.Context()
	items, err := h.s.Cart.Items(ctx, o)
	if err != nil {
		log.Printf("[cart] reload %s: %v", o, err)
		if status != 0 {
			internalError(c, "cart_unavailable")
		}
		return
	}
	if sid := c.GetHeader(SessionHeader); sid != "" {
		if err := h.s.Cart.Touch(ctx, sid, c.GetString(auth.UserIDKey), c.GetString(auth.EmailKey), items); err != nil {
			log.Printf("[cart] touch session %s: %v", sid, err)
		}
	}
	body := cartBody(items)
	h.s.Hub.Broadcast(c.Request.Context(), o.Key(), gin.H{"type": "cart_updated", "cart": body})
	if status != 0 {
		c.JSON(status, body)
	}
}

func cartBody(items []cart.Item) gin.H {
	if items == nil {
		items = []cart.Item{}
	}
	return gin.H{
		"items":       items,
		"total_value": cart.ComputeTotal(items).StringFixed(2),
		"item_count":  cart.ItemCount(items),
	}
}
