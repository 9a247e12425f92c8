package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/auth"
	"github.com/imrishuroy/go-checkout-pipeline/internal/gateway"
	"github.com/imrishuroy/go-checkout-pipeline/internal/inventory"
	"github.com/imrishuroy/go-checkout-pipeline/internal/materializer"
	"github.com/imrishuroy/go-checkout-pipeline/internal/orders"
	"github.com/imrishuroy/go-checkout-pipeline/internal/validation"
)

// SessionHeader carries the guest cart session id.
const SessionHeader = "X-Cart-Session"

// nowFunc is swapped in tests to pin order numbers.
var nowFunc = time.Now

// RegisterOrdersRoutes registers checkout intake and the order endpoints.
func RegisterOrdersRoutes(r *gin.Engine, s *app.Services, limit gin.HandlerFunc) {
	h := &ordersHandler{s: s}

	r.POST("/checkout", s.Auth.Optional(), limit, h.checkout)

	admin := r.Group("/orders", s.Auth.Required(), auth.RequireRole(auth.RoleAdmin))
	admin.POST("/materialize", h.materialize)
	admin.GET("/:orderNumber", h.get)
	admin.PATCH("/:orderNumber/status", h.updateStatus)
}

type ordersHandler struct {
	s *app.Services
}

// checkout validates the cart snapshot, stores the pending order and returns the gateway form.
func (h *ordersHandler) checkout(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, h.s.Validate); err != nil {
		return
	}

	wanted := map[string]int{}
	for _, it := range req.Items {
		wanted[it.ProductID] += it.Quantity
	}
	products, short, err := h.s.Inventory.Quote(ctx, wanted)
	if err != nil {
		log.Printf("[checkout] stock check failed: %v", err)
		internalError(c, "stock_check_failed")
		return
	}
	if len(short) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "insufficient_stock",
			"message":   "Some items are no longer available in the requested quantity.",
			"shortages": short,
		})
		return
	}
	items, changed := priceFromCatalog(req.Items, products)
	if len(changed) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "price_changed",
			"message": "Some prices have changed. Please review your cart and try again.",
			"items":   changed,
		})
		return
	}

	pending := orders.PendingOrder{
		OrderNumber:  newOrderNumber(),
		UserID:       c.GetString(auth.UserIDKey),
		SessionID:    c.GetHeader(SessionHeader),
		FormData:     req.Form,
		CartData:     items,
		DeliveryData: req.Delivery,
		TotalAmount:  orders.SnapshotTotal(items, req.Delivery.Fee),
	}
	if err := h.s.Pending.Put(ctx, pending); err != nil {
		log.Printf("[checkout] store pending order %s: %v", pending.OrderNumber, err)
		internalError(c, "checkout_failed")
		return
	}

	redirect := h.s.Gateway.BuildRedirect(gateway.RedirectOrder{
		ID:            pending.OrderNumber,
		Amount:        pending.TotalAmount,
		CustomerName:  req.Form.FirstName + " " + req.Form.LastName,
		CustomerEmail: req.Form.Email,
		CustomerPhone: req.Form.Phone,
		ItemsSummary:  itemsSummary(items),
	}, h.s.Gateway.URLsFor(pending.OrderNumber))

	log.Printf("[checkout] pending order %s stored, total %.2f", pending.OrderNumber, pending.TotalAmount)
	c.JSON(http.StatusCreated, gin.H{
		"order_number": pending.OrderNumber,
		"total_amount": pending.TotalAmount,
		"redirect":     redirect,
	})
}

// materialize is the operator entry point into the materializer.
func (h *ordersHandler) materialize(c *gin.Context) {
	var req validation.MaterializeRequest
	if err := validation.BindAndValidate(c, &req, h.s.Validate); err != nil {
		return
	}
	source := req.Source
	if source == "" {
		source = materializer.SourceManual
	}

	mreq := materializer.Request{OrderNumber: req.OrderNumber, Source: source}
	if len(req.PaymentData) > 0 {
		mreq.Payment = &gateway.VerifiedPayment{
			OrderNumber: req.OrderNumber,
			PFPaymentID: req.PaymentData["pf_payment_id"],
			Status:      req.PaymentData["payment_status"],
			AmountGross: req.PaymentData["amount_gross"],
			AmountFee:   req.PaymentData["amount_fee"],
			AmountNet:   req.PaymentData["amount_net"],
			Fields:      req.PaymentData,
		}
	}

	res, err := h.s.Materializer.MaterializeOnce(c.Request.Context(), mreq)
	if err != nil {
		log.Printf("[orders] materialize %s failed: %v", req.OrderNumber, err)
		internalError(c, "materialize_failed")
		return
	}

	switch res.Outcome {
	case materializer.Created:
		c.JSON(http.StatusCreated, gin.H{"success": true, "orderId": res.OrderID, "orderNumber": res.OrderNumber})
	case materializer.AlreadyExists:
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"code":        "order_already_exists",
			"orderId":     res.OrderID,
			"orderNumber": res.OrderNumber,
		})
	default:
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "pending_order_not_found",
			"message": fmt.Sprintf("No checkout data found. Contact support with order number %s.", res.OrderNumber),
		})
	}
}

func (h *ordersHandler) get(c *gin.Context) {
	o, err := h.s.Orders.GetWithItems(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		log.Printf("[orders] get %s: %v", c.Param("orderNumber"), err)
		internalError(c, "order_lookup_failed")
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *ordersHandler) updateStatus(c *gin.Context) {
	ctx := c.Request.Context()
	orderNumber := c.Param("orderNumber")

	var req validation.StatusUpdateRequest
	if err := validation.BindAndValidate(c, &req, h.s.Validate); err != nil {
		return
	}

	o, err := h.s.Orders.Get(ctx, orderNumber)
	if err != nil {
		log.Printf("[orders] get %s: %v", orderNumber, err)
		internalError(c, "order_lookup_failed")
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}

	err = h.s.Orders.UpdateStatus(ctx, orderNumber, req.From, req.To)
	if errors.Is(err, orders.ErrStatusMismatch) {
		c.JSON(http.StatusConflict, gin.H{"error": "status_mismatch", "current": o.Status})
		return
	}
	if err != nil {
		log.Printf("[orders] update status %s: %v", orderNumber, err)
		internalError(c, "status_update_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_number": orderNumber, "status": req.To})
}

// newOrderNumber returns ORD-<unix seconds>-<6 upper hex>.
func newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%d-%s", nowFunc().Unix(), suffix)
}

// priceFromCatalog rewrites each line with the catalog name, SKU and price. Lines whose
// submitted price differs from the catalog by a cent or more are returned as changed.
func priceFromCatalog(lines []orders.CartSnapshotItem, products map[string]inventory.Product) ([]orders.CartSnapshotItem, []orders.CartSnapshotItem) {
	out := make([]orders.CartSnapshotItem, 0, len(lines))
	var changed []orders.CartSnapshotItem
	for _, it := range lines {
		p := products[it.ProductID]
		want := decimal.NewFromFloat(p.Price).Round(2)
		if !decimal.NewFromFloat(it.Price).Round(2).Equal(want) {
			changed = append(changed, orders.CartSnapshotItem{
				ProductID: it.ProductID, Name: p.Name, SKU: p.SKU, Price: p.Price, Quantity: it.Quantity,
			})
		}
		it.Name, it.SKU, it.Price = p.Name, p.SKU, p.Price
		out = append(out, it)
	}
	return out, changed
}

func itemsSummary(items []orders.CartSnapshotItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
	}
	return strings.Join(parts, ", ")
}
