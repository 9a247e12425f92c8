// Package materializer turns a paid pending order into a durable order exactly once.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-pipeline/internal/gateway"
	"github.com/imrishuroy/go-checkout-pipeline/internal/orders"
	"github.com/imrishuroy/go-checkout-pipeline/internal/paymentlog"
)

// Outcome is the result of one materialization attempt.
type Outcome string

const (
	Created       Outcome = "created"
	AlreadyExists Outcome = "already_exists"
	NotFound      Outcome = "not_found"
)

// Sources recorded on the order.
const (
	SourceWebhook        = "webhook"
	SourceManual         = "manual"
	SourceManualRecovery = "manual_recovery"
)

// Request identifies the order to materialize and, when known, the payment that paid for it.
type Request struct {
	OrderNumber string
	Source      string
	Payment     *gateway.VerifiedPayment
}

// Result describes what happened. OrderID is set for Created and AlreadyExists.
type Result struct {
	Outcome        Outcome `json:"outcome"`
	OrderID        string  `json:"order_id,omitempty"`
	OrderNumber    string  `json:"order_number"`
	AmountMismatch bool    `json:"amount_mismatch,omitempty"`
}

// OrderStore is the durable order table.
type OrderStore interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
	Create(ctx context.Context, order orders.Order, items []orders.OrderItem) error
}

// PendingStore holds the pre-payment snapshots.
type PendingStore interface {
	Get(ctx context.Context, orderNumber string) (*orders.PendingOrder, error)
	Delete(ctx context.Context, orderNumber string) error
}

// EventLog is the payment audit trail. Record never fails the caller.
type EventLog interface {
	Record(ctx context.Context, ev paymentlog.Event)
}

// Inventory adjusts stock after an order is created.
type Inventory interface {
	DecrementStock(ctx context.Context, productID string, qty int) error
}

// Notifier tells the customer about the new order.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o orders.Order) error
}

// Metrics receives business counters.
type Metrics interface {
	Count(ctx context.Context, name string, value float64, dimensions map[string]string) error
	Amount(ctx context.Context, name string, value float64, dimensions map[string]string) error
}

// SessionConverter marks the cart session that produced the order as converted.
type SessionConverter interface {
	TransitionConverted(ctx context.Context, sessionID, orderID string) error
}

// Materializer creates orders from pending orders.
type Materializer struct {
	orders    OrderStore
	pending   PendingStore
	events    EventLog
	inventory Inventory
	notifier  Notifier
	metrics   Metrics
	sessions  SessionConverter
	newID     func() string
	nowFunc   func() time.Time
}

// Option configures optional side effects.
type Option func(*Materializer)

func WithInventory(i Inventory) Option       { return func(m *Materializer) { m.inventory = i } }
func WithNotifier(n Notifier) Option         { return func(m *Materializer) { m.notifier = n } }
func WithMetrics(mt Metrics) Option          { return func(m *Materializer) { m.metrics = mt } }
func WithSessions(s SessionConverter) Option { return func(m *Materializer) { m.sessions = s } }
func withIDs(f func() string) Option         { return func(m *Materializer) { m.newID = f } }
func withClock(f func() time.Time) Option    { return func(m *Materializer) { m.nowFunc = f } }

// New returns a Materializer. Side-effect collaborators are optional.
func New(o OrderStore, p PendingStore, events EventLog, opts ...Option) *Materializer {
	m := &Materializer{
		orders:  o,
		pending: p,
		events:  events,
		newID:   uuid.NewString,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize performs one attempt. An existing order short-circuits to AlreadyExists,
// a missing pending order yields NotFound, and only store failures are returned as errors.
func (m *Materializer) Materialize(ctx context.Context, req Request) (Result, error) {
	res := Result{OrderNumber: req.OrderNumber}

	existing, err := m.orders.Get(ctx, req.OrderNumber)
	if err != nil {
		return res, fmt.Errorf("check existing order: %w", err)
	}
	if existing != nil {
		log.Printf("[materializer] order=%s already materialized as %s", req.OrderNumber, existing.OrderID)
		res.Outcome, res.OrderID = AlreadyExists, existing.OrderID
		return res, nil
	}

	pending, err := m.pending.Get(ctx, req.OrderNumber)
	if err != nil {
		return res, fmt.Errorf("load pending order: %w", err)
	}
	if pending == nil {
		log.Printf("[materializer] pending order %s not found", req.OrderNumber)
		m.events.Record(ctx, m.event(req, paymentlog.PendingOrderNotFound, nil, ""))
		res.Outcome = NotFound
		return res, nil
	}

	order, items := m.build(pending, req)
	if err := m.orders.Create(ctx, order, items); err != nil {
		if errors.Is(err, orders.ErrAlreadyExists) {
			// lost the race to a concurrent materialization
			winner, gerr := m.orders.Get(ctx, req.OrderNumber)
			if gerr != nil {
				return res, fmt.Errorf("load concurrent order: %w", gerr)
			}
			res.Outcome = AlreadyExists
			if winner != nil {
				res.OrderID = winner.OrderID
			}
			log.Printf("[materializer] order=%s created concurrently", req.OrderNumber)
			return res, nil
		}
		return res, fmt.Errorf("create order: %w", err)
	}
	log.Printf("[materializer] created order=%s id=%s source=%s total=%.2f", order.OrderNumber, order.OrderID, order.Source, order.TotalAmount)

	res.Outcome, res.OrderID = Created, order.OrderID
	res.AmountMismatch = amountMismatch(req.Payment, pending.TotalAmount)
	if res.AmountMismatch {
		log.Printf("[materializer] WARNING order=%s paid %s but expected %.2f", order.OrderNumber, req.Payment.AmountGross, pending.TotalAmount)
	}

	order.Items = items
	m.sideEffects(ctx, order, pending)

	if err := m.pending.Delete(ctx, req.OrderNumber); err != nil {
		log.Printf("[materializer] failed to delete pending order %s: %v", req.OrderNumber, err)
	}
	return res, nil
}

func (m *Materializer) build(p *orders.PendingOrder, req Request) (orders.Order, []orders.OrderItem) {
	now := m.nowFunc().UTC()
	source := req.Source
	if source == "" {
		source = SourceWebhook
	}
	order := orders.Order{
		OrderNumber:     p.OrderNumber,
		OrderID:         m.newID(),
		UserID:          p.UserID,
		SessionID:       p.SessionID,
		Email:           p.FormData.Email,
		CustomerName:    strings.TrimSpace(p.FormData.FirstName + " " + p.FormData.LastName),
		Status:          orders.StatusConfirmed,
		PaymentStatus:   orders.PaymentPaid,
		Source:          source,
		TotalAmount:     p.TotalAmount,
		DeliveryMethod:  p.DeliveryData.Method,
		DeliveryFee:     p.DeliveryData.Fee,
		BillingAddress:  p.FormData.Billing,
		ShippingAddress: p.FormData.ShippingAddress(),
		CreatedAt:       now,
	}
	if req.Payment != nil {
		order.PaymentReference = req.Payment.PFPaymentID
	}

	items := make([]orders.OrderItem, 0, len(p.CartData))
	for i, line := range p.CartData {
		items = append(items, orders.OrderItem{
			OrderID:     order.OrderID,
			Line:        i + 1,
			ProductID:   line.ProductID,
			ProductName: line.Name,
			ProductSKU:  line.SKU,
			UnitPrice:   line.Price,
			Quantity:    line.Quantity,
			TotalPrice:  orders.LineTotal(line.Price, line.Quantity),
		})
	}
	return order, items
}

// sideEffects runs the post-create work. Each step is best-effort: the order already exists.
func (m *Materializer) sideEffects(ctx context.Context, order orders.Order, p *orders.PendingOrder) {
	if m.inventory != nil {
		for _, it := range order.Items {
			if err := m.inventory.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
				log.Printf("[materializer] inventory update failed order=%s product=%s: %v", order.OrderNumber, it.ProductID, err)
			}
		}
	}
	if m.notifier != nil {
		if err := m.notifier.OrderConfirmed(ctx, order); err != nil {
			log.Printf("[materializer] confirmation mail failed order=%s: %v", order.OrderNumber, err)
		}
	}
	if m.metrics != nil {
		dims := map[string]string{"Source": order.Source}
		if err := m.metrics.Count(ctx, "OrdersCreated", 1, dims); err != nil {
			log.Printf("[materializer] metric OrdersCreated failed: %v", err)
		}
		if err := m.metrics.Amount(ctx, "Revenue", order.TotalAmount, dims); err != nil {
			log.Printf("[materializer] metric Revenue failed: %v", err)
		}
	}
	if m.sessions != nil && p.SessionID != "" {
		if err := m.sessions.TransitionConverted(ctx, p.SessionID, order.OrderID); err != nil {
			log.Printf("[materializer] session %s not marked converted: %v", p.SessionID, err)
		}
	}
}

// MaterializeOnce is a single Materialize attempt that records processing_completed
// when an order exists afterwards. Operator paths use it instead of a Retrier.
func (m *Materializer) MaterializeOnce(ctx context.Context, req Request) (Result, error) {
	res, err := m.Materialize(ctx, req)
	if err == nil && res.Outcome != NotFound {
		m.events.Record(ctx, m.completed(req, res, 1))
	}
	return res, err
}

func (m *Materializer) completed(req Request, res Result, attempt int) paymentlog.Event {
	return m.event(req, paymentlog.ProcessingCompleted, map[string]string{
		"outcome":         string(res.Outcome),
		"order_id":        res.OrderID,
		"source":          req.Source,
		"attempt":         strconv.Itoa(attempt),
		"amount_mismatch": strconv.FormatBool(res.AmountMismatch),
	}, "")
}

func (m *Materializer) event(req Request, t paymentlog.EventType, data map[string]string, errMsg string) paymentlog.Event {
	ev := paymentlog.Event{
		MPaymentID:   req.OrderNumber,
		EventType:    t,
		EventData:    data,
		ErrorMessage: errMsg,
	}
	if req.Payment != nil {
		ev.PFPaymentID = req.Payment.PFPaymentID
		ev.PaymentStatus = req.Payment.Status
	}
	return ev
}

// amountMismatch compares what the gateway reports against the pending total, to the cent.
func amountMismatch(p *gateway.VerifiedPayment, expected float64) bool {
	if p == nil {
		return false
	}
	gross, ok := p.Gross()
	if !ok {
		return false
	}
	return !gross.Round(2).Equal(decimal.NewFromFloat(expected).Round(2))
}
