package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/auth"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
	"github.com/imrishuroy/go-checkout-pipeline/internal/idempotency"
	"github.com/imrishuroy/go-checkout-pipeline/internal/inventory"
	"github.com/imrishuroy/go-checkout-pipeline/internal/paymentlog"
	"github.com/imrishuroy/go-checkout-pipeline/internal/signature"
)

const passphrase = "jt7NOE43FZPn"

type env struct {
	s     *app.Services
	r     *gin.Engine
	db    *awstest.Dynamo
	queue *awstest.Queue
}

func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Gateway: config.Gateway{
			MerchantID:  "10000100",
			MerchantKey: "46f0cd694581a",
			Passphrase:  passphrase,
			SiteURL:     "https://shop.example",
		},
		Tables: config.Tables{
			PendingOrders: "pending_orders",
			Orders:        "orders",
			OrderItems:    "order_items",
			CartItems:     "cart_items",
			CartSessions:  "cart_sessions",
			PaymentLogs:   "payment_logs",
			Products:      "products",
			Idempotency:   "idempotency",
		},
		RateLimitMax:          100,
		RateLimitWindow:       time.Minute,
		JWTSecret:             "test-secret",
		MetricsNamespace:      "Checkout/Test",
		MaterializeAttempts:   2,
		MaterializeRetryDelay: time.Millisecond,
		PendingOrderTTL:       time.Hour,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	db := awstest.NewDynamo(map[string][]string{
		"pending_orders": {"order_number"},
		"orders":         {"order_number"},
		"order_items":    {"order_id", "line"},
		"cart_items":     {"owner_key", "product_id"},
		"cart_sessions":  {"session_id"},
		"payment_logs":   {"payment_id"},
		"products":       {"product_id"},
		"idempotency":    {"delivery_key"},
	})
	db.Seed(t, "products", inventory.Product{ProductID: "P1", Name: "Mug", SKU: "MUG-1", Price: 120, Stock: 10})
	db.Seed(t, "products", inventory.Product{ProductID: "P2", Name: "Tea", SKU: "TEA-1", Price: 45.5, Stock: 1})

	queue := &awstest.Queue{}
	s := app.New(cfg, &aws.AWSClients{DynamoDB: db, SQS: queue, CloudWatch: &awstest.Metrics{}})
	return &env{s: s, r: NewRouter(s), db: db, queue: queue}
}

func (e *env) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := e.s.Auth.Sign(auth.Claims{UserID: userID, Email: userID + "@example.com", Role: role})
	require.NoError(t, err)
	return tok
}

func (e *env) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) webhook(fields map[string]string) *httptest.ResponseRecorder {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func signedWebhook(orderNumber, status string) map[string]string {
	f := map[string]string{
		"m_payment_id":   orderNumber,
		"pf_payment_id":  "pf-" + orderNumber,
		"payment_status": status,
		"amount_gross":   "300.00",
		"amount_fee":     "-6.90",
		"amount_net":     "293.10",
		"email_address":  "thandi@example.com",
	}
	f[signature.FieldName] = signature.Sign(f, passphrase)
	return f
}

const checkoutBody = `{
	"form": {
		"first_name": "Thandi", "last_name": "Nkosi", "email": "thandi@example.com",
		"billing": {"line1": "1 Long St", "city": "Cape Town", "postal_code": "8001", "country": "ZA"}
	},
	"items": [{"product_id": "P1", "name": "Mug", "sku": "MUG-1", "price": 120, "quantity": 2}],
	"delivery": {"method": "standard", "fee": 60}
}`

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *env) checkout(t *testing.T) string {
	t.Helper()
	w := e.do(http.MethodPost, "/checkout", checkoutBody, map[string]string{SessionHeader: "guest-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["order_number"].(string)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckout_StoresPendingOrderAndSignsRedirect(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/checkout", checkoutBody, map[string]string{SessionHeader: "guest-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		OrderNumber string  `json:"order_number"`
		TotalAmount float64 `json:"total_amount"`
		Redirect    struct {
			EndpointURL string            `json:"endpoint_url"`
			FormFields  map[string]string `json:"form_fields"`
		} `json:"redirect"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Regexp(t, `^ORD-\d+-[0-9A-F]{6}$`, resp.OrderNumber)
	assert.Equal(t, 300.0, resp.TotalAmount)
	assert.Equal(t, config.LiveEndpoint, resp.Redirect.EndpointURL)
	assert.Equal(t, "300.00", resp.Redirect.FormFields["amount"])
	assert.Equal(t, "Mug x2", resp.Redirect.FormFields["item_description"])
	assert.True(t, signature.Verify(resp.Redirect.FormFields, resp.Redirect.FormFields[signature.FieldName], passphrase))

	p, err := e.s.Pending.Get(t.Context(), resp.OrderNumber)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "guest-1", p.SessionID)
}

func TestCheckout_RejectsBeforeWriting(t *testing.T) {
	e := newEnv(t)

	bad := strings.Replace(checkoutBody, `"sku": "MUG-1"`, `"sku": "mug 1"`, 1)
	w := e.do(http.MethodPost, "/checkout", bad, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", decode(t, w)["error"])

	short := strings.Replace(checkoutBody, `"product_id": "P1", "name": "Mug", "sku": "MUG-1", "price": 120, "quantity": 2`,
		`"product_id": "P2", "name": "Tea", "sku": "TEA-1", "price": 45.5, "quantity": 3`, 1)
	w = e.do(http.MethodPost, "/checkout", short, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "insufficient_stock", decode(t, w)["error"])

	assert.Equal(t, 0, e.db.Len("pending_orders"))
}

func TestCheckout_TamperedPriceRejected(t *testing.T) {
	e := newEnv(t)

	cheap := strings.Replace(checkoutBody, `"price": 120`, `"price": 0.01`, 1)
	w := e.do(http.MethodPost, "/checkout", cheap, nil)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	var resp struct {
		Error string `json:"error"`
		Items []struct {
			ProductID string  `json:"product_id"`
			Price     float64 `json:"price"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "price_changed", resp.Error)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 120.0, resp.Items[0].Price)
	assert.Equal(t, 0, e.db.Len("pending_orders"))
}

func TestCheckout_UsesCatalogNameAndSKU(t *testing.T) {
	e := newEnv(t)

	renamed := strings.Replace(checkoutBody, `"name": "Mug", "sku": "MUG-1"`, `"name": "Gold Mug", "sku": "GOLD-1"`, 1)
	w := e.do(http.MethodPost, "/checkout", renamed, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	p, err := e.s.Pending.Get(t.Context(), decode(t, w)["order_number"].(string))
	require.NoError(t, err)
	require.Len(t, p.CartData, 1)
	assert.Equal(t, "Mug", p.CartData[0].Name)
	assert.Equal(t, "MUG-1", p.CartData[0].SKU)
	assert.Equal(t, 300.0, p.TotalAmount)
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	e := newEnv(t)
	order := e.checkout(t)

	f := signedWebhook(order, "COMPLETE")
	f["amount_gross"] = "1.00"
	w := e.webhook(f)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "signature_invalid", decode(t, w)["error"])
	assert.Equal(t, 0, e.db.Len("orders"))

	evs, err := e.s.PaymentLog.ByOrder(t.Context(), order)
	require.NoError(t, err)
	var types []paymentlog.EventType
	for _, ev := range evs {
		types = append(types, ev.EventType)
	}
	assert.ElementsMatch(t, []paymentlog.EventType{paymentlog.WebhookReceived, paymentlog.SignatureFailed}, types)
}

func TestWebhook_MaterializesOnceAcrossRedeliveries(t *testing.T) {
	e := newEnv(t)
	order := e.checkout(t)

	w := e.webhook(signedWebhook(order, "COMPLETE"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "created", body["outcome"])
	firstID := body["order_id"]

	w = e.webhook(signedWebhook(order, "COMPLETE"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "already_exists", body["outcome"])
	assert.Equal(t, firstID, body["order_id"])

	assert.Equal(t, 1, e.db.Len("orders"))
	assert.Equal(t, 1, e.db.Len("order_items"))
	assert.Equal(t, 0, e.db.Len("pending_orders"))

	p, err := e.s.Inventory.Get(t.Context(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 8, p.Stock)
}

func TestWebhook_NonCompleteIgnored(t *testing.T) {
	e := newEnv(t)
	order := e.checkout(t)

	w := e.webhook(signedWebhook(order, "CANCELLED"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])
	assert.Equal(t, 0, e.db.Len("orders"))
	assert.Equal(t, 1, e.db.Len("pending_orders"))
}

func TestWebhook_MissingPendingOrderFailsAfterRetries(t *testing.T) {
	e := newEnv(t)

	w := e.webhook(signedWebhook("ORD-1-GONE00", "COMPLETE"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "processing_failed", decode(t, w)["error"])

	orphaned, err := e.s.Console.ListOrphaned(t.Context())
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.Equal(t, 2, orphaned[0].Occurrences)
}

func TestWebhook_AsyncQueuesOnce(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.WebhookAsync = true
		c.WebhookQueueURL = "https://sqs.test/webhooks"
	})
	order := e.checkout(t)

	for i := 0; i < 2; i++ {
		w := e.webhook(signedWebhook(order, "COMPLETE"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "queued", decode(t, w)["status"])
	}
	require.Len(t, e.queue.Bodies, 1)

	var job app.WebhookJob
	require.NoError(t, json.Unmarshal([]byte(e.queue.Bodies[0]), &job))
	assert.Equal(t, "pf-"+order, job.DeliveryKey)
	assert.Equal(t, order, job.OrderNumber)
	assert.Equal(t, 0, e.db.Len("orders"))
}

func TestWebhook_AsyncPublishFailure(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.WebhookAsync = true
		c.WebhookQueueURL = "https://sqs.test/webhooks"
	})
	order := e.checkout(t)
	ctx := context.Background()

	e.queue.Err = errors.New("queue unavailable")
	w := e.webhook(signedWebhook(order, "COMPLETE"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "enqueue_failed", decode(t, w)["error"])
	rec, err := e.s.Deliveries.Get(ctx, "pf-"+order)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
	assert.True(t, strings.HasPrefix(rec.Note, "sqs_send_failed: "))

	// a failed record is reclaimed by the gateway's redelivery
	e.queue.Err = nil
	w = e.webhook(signedWebhook(order, "COMPLETE"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, e.queue.Bodies, 1)
}

func TestWebhook_AsyncPublishAndMarkFailure(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.WebhookAsync = true
		c.WebhookQueueURL = "https://sqs.test/webhooks"
	})
	order := e.checkout(t)
	e.queue.Err = errors.New("queue unavailable")
	e.db.Fail = func(op, table string) error {
		if op == "UpdateItem" && table == "idempotency" {
			return errors.New("throttled")
		}
		return nil
	}

	w := e.webhook(signedWebhook(order, "COMPLETE"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "enqueue_failed", decode(t, w)["error"])

	e.db.Fail = nil
	rec, err := e.s.Deliveries.Get(context.Background(), "pf-"+order)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusInProgress, rec.Status)
}

func TestMaterialize_AdminOnlyWithDistinctCodes(t *testing.T) {
	e := newEnv(t)
	order := e.checkout(t)
	body := `{"order_number": "` + order + `", "source": "manual"}`

	w := e.do(http.MethodPost, "/orders/materialize", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	user := map[string]string{"Authorization": "Bearer " + e.token(t, "u-1", "")}
	w = e.do(http.MethodPost, "/orders/materialize", body, user)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := map[string]string{"Authorization": "Bearer " + e.token(t, "ops-1", auth.RoleAdmin)}
	w = e.do(http.MethodPost, "/orders/materialize", body, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, true, created["success"])
	assert.Equal(t, order, created["orderNumber"])

	w = e.do(http.MethodPost, "/orders/materialize", body, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	dup := decode(t, w)
	assert.Equal(t, true, dup["success"])
	assert.Equal(t, "order_already_exists", dup["code"])
	assert.Equal(t, created["orderId"], dup["orderId"])

	w = e.do(http.MethodPost, "/orders/materialize", `{"order_number": "ORD-0-NOPE00"}`, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "pending_order_not_found", decode(t, w)["error"])
}

func TestOrderStatusTransition(t *testing.T) {
	e := newEnv(t)
	order := e.checkout(t)
	require.Equal(t, http.StatusOK, e.webhook(signedWebhook(order, "COMPLETE")).Code)
	admin := map[string]string{"Authorization": "Bearer " + e.token(t, "ops-1", auth.RoleAdmin)}

	w := e.do(http.MethodPatch, "/orders/"+order+"/status", `{"from": "confirmed", "to": "processing"}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPatch, "/orders/"+order+"/status", `{"from": "confirmed", "to": "cancelled"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPatch, "/orders/"+order+"/status", `{"from": "confirmed", "to": "delivered"}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/orders/"+order, "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processing", decode(t, w)["status"])

	w = e.do(http.MethodPatch, "/orders/ORD-0-NOPE00/status", `{"from": "confirmed", "to": "processing"}`, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCart_GuestThenMigrate(t *testing.T) {
	e := newEnv(t)
	guest := map[string]string{SessionHeader: "guest-1"}

	w := e.do(http.MethodPost, "/cart/items", `{"product_id": "P1", "quantity": 2}`, guest)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "240.00", decode(t, w)["total_value"])

	w = e.do(http.MethodPost, "/cart/items", `{"product_id": "missing", "quantity": 1}`, guest)
	assert.Equal(t, http.StatusNotFound, w.Code)

	sess, err := e.s.Cart.GetSession(t.Context(), "guest-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 2, sess.ItemCount)

	tok := e.token(t, "u-1", "")
	w = e.do(http.MethodPost, "/cart/items", `{"product_id": "P1", "quantity": 1}`, map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/cart/migrate", "", map[string]string{"Authorization": "Bearer " + tok, SessionHeader: "guest-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get(SessionClearHeader))
	assert.Equal(t, float64(1), decode(t, w)["merged"])

	w = e.do(http.MethodGet, "/cart", "", map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["item_count"])

	w = e.do(http.MethodGet, "/cart", "", guest)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["item_count"])
}

func TestCart_RequiresOwner(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/cart/migrate", "", map[string]string{SessionHeader: "guest-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCart_Abandon(t *testing.T) {
	e := newEnv(t)
	guest := map[string]string{SessionHeader: "guest-1"}
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/cart/items", `{"product_id": "P1", "quantity": 1}`, guest).Code)

	w := e.do(http.MethodPost, "/cart/abandon", `{"reason": "tab_hidden"}`, guest)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(http.MethodPost, "/cart/abandon", `{"reason": "timeout"}`, guest)
	require.Equal(t, http.StatusNoContent, w.Code)

	sess, err := e.s.Cart.GetSession(t.Context(), "guest-1")
	require.NoError(t, err)
	assert.Equal(t, "tab_hidden", sess.AbandonReason)

	w = e.do(http.MethodPost, "/cart/abandon", `{"reason": "bored"}`, guest)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.RateLimitMax = 2 })
	guest := map[string]string{SessionHeader: "guest-1"}

	for i := 0; i < 2; i++ {
		w := e.do(http.MethodGet, "/cart", "", guest)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := e.do(http.MethodGet, "/cart", "", guest)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestReconcileRoutes(t *testing.T) {
	e := newEnv(t)
	order := e.checkout(t)
	require.Equal(t, http.StatusOK, e.webhook(signedWebhook(order, "COMPLETE")).Code)
	admin := map[string]string{"Authorization": "Bearer " + e.token(t, "ops-1", auth.RoleAdmin)}

	w := e.do(http.MethodGet, "/reconcile/report", "", admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode(t, w)
	assert.Equal(t, float64(1), report["webhooks_received"])
	assert.Equal(t, float64(1), report["orders_processed"])

	w = e.do(http.MethodGet, "/reconcile/payment/"+order, "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["order_exists"])

	w = e.do(http.MethodPost, "/reconcile/recover/"+order, "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_materialized", decode(t, w)["status"])

	w = e.do(http.MethodGet, "/reconcile/orphaned", "", map[string]string{"Authorization": "Bearer " + e.token(t, "u-1", "")})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
