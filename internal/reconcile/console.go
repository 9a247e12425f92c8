// Package reconcile provides operator diagnostics over the payment log for
// payments that never became orders.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-pipeline/internal/materializer"
	"github.com/imrishuroy/go-checkout-pipeline/internal/orders"
	"github.com/imrishuroy/go-checkout-pipeline/internal/paymentlog"
)

// Recovery statuses.
const (
	StatusAlreadyMaterialized = "already_materialized"
	StatusRecovered           = "recovered"
	StatusCannotAutoRecover   = "cannot_auto_recover"
)

// EventSource reads the payment log.
type EventSource interface {
	ByType(ctx context.Context, t paymentlog.EventType) ([]paymentlog.Event, error)
	ByOrder(ctx context.Context, orderNumber string) ([]paymentlog.Event, error)
	All(ctx context.Context) ([]paymentlog.Event, error)
}

// OrderLookup finds materialized orders.
type OrderLookup interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
}

// PendingLookup finds surviving pending orders.
type PendingLookup interface {
	Get(ctx context.Context, orderNumber string) (*orders.PendingOrder, error)
}

// Materializer re-runs order creation for a surviving pending order.
type Materializer interface {
	MaterializeOnce(ctx context.Context, req materializer.Request) (materializer.Result, error)
}

// Candidate is an order number that hit pending_order_not_found at least once.
type Candidate struct {
	OrderNumber string    `json:"order_number"`
	PFPaymentID string    `json:"pf_payment_id,omitempty"`
	Occurrences int       `json:"occurrences"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// PaymentStatus is everything known about one order number.
type PaymentStatus struct {
	OrderNumber   string             `json:"order_number"`
	Events        []paymentlog.Event `json:"events"`
	OrderExists   bool               `json:"order_exists"`
	Order         *orders.Order      `json:"order,omitempty"`
	PendingExists bool               `json:"pending_exists"`
}

// Known is the payment detail recoverable from the log alone.
type Known struct {
	PFPaymentID   string    `json:"pf_payment_id,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	AmountGross   string    `json:"amount_gross,omitempty"`
	Email         string    `json:"email_address,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	FirstSeen     time.Time `json:"first_seen,omitempty"`
	LastSeen      time.Time `json:"last_seen,omitempty"`
	EventCount    int       `json:"event_count"`
}

// RecoveryResult is the structured answer of AttemptRecovery.
type RecoveryResult struct {
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	OrderID     string `json:"order_id,omitempty"`
	Message     string `json:"message"`
	Known       *Known `json:"known,omitempty"`
}

// Report aggregates the whole payment log.
type Report struct {
	WebhooksReceived   int     `json:"webhooks_received"`
	OrdersProcessed    int     `json:"orders_processed"`
	ProcessingFailures int     `json:"processing_failures"`
	OrphanedPayments   int     `json:"orphaned_payments"`
	SignatureFailures  int     `json:"signature_failures"`
	SuccessRate        float64 `json:"success_rate"` // percent of received webhooks that completed
}

// Console runs the diagnostics.
type Console struct {
	events  EventSource
	orders  OrderLookup
	pending PendingLookup
	m       Materializer
}

// NewConsole returns a Console. m may be nil, which disables recovery from surviving pending orders.
func NewConsole(events EventSource, o OrderLookup, p PendingLookup, m Materializer) *Console {
	return &Console{events: events, orders: o, pending: p, m: m}
}

// ListOrphaned groups pending_order_not_found events by order number, most recent first.
// Order numbers that have since completed or now have an order are left out.
func (c *Console) ListOrphaned(ctx context.Context) ([]Candidate, error) {
	evs, err := c.events.ByType(ctx, paymentlog.PendingOrderNotFound)
	if err != nil {
		return nil, fmt.Errorf("list orphaned: %w", err)
	}
	done, err := c.events.ByType(ctx, paymentlog.ProcessingCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	completed := map[string]bool{}
	for _, ev := range done {
		completed[ev.MPaymentID] = true
	}

	byOrder := map[string]*Candidate{}
	for _, ev := range evs {
		if completed[ev.MPaymentID] {
			continue
		}
		cand, ok := byOrder[ev.MPaymentID]
		if !ok {
			cand = &Candidate{OrderNumber: ev.MPaymentID, FirstSeen: ev.CreatedAt}
			byOrder[ev.MPaymentID] = cand
		}
		cand.Occurrences++
		if ev.PFPaymentID != "" {
			cand.PFPaymentID = ev.PFPaymentID
		}
		if ev.CreatedAt.Before(cand.FirstSeen) {
			cand.FirstSeen = ev.CreatedAt
		}
		if ev.CreatedAt.After(cand.LastSeen) {
			cand.LastSeen = ev.CreatedAt
		}
	}
	out := make([]Candidate, 0, len(byOrder))
	for n, cand := range byOrder {
		exists, err := c.orderExists(ctx, n)
		if err != nil {
			return nil, err
		}
		if !exists {
			out = append(out, *cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

// PaymentStatus returns the log trail of orderNumber and whether an order exists now.
func (c *Console) PaymentStatus(ctx context.Context, orderNumber string) (PaymentStatus, error) {
	st := PaymentStatus{OrderNumber: orderNumber}
	evs, err := c.events.ByOrder(ctx, orderNumber)
	if err != nil {
		return st, fmt.Errorf("load events: %w", err)
	}
	st.Events = evs
	order, err := c.orders.Get(ctx, orderNumber)
	if err != nil {
		return st, fmt.Errorf("load order: %w", err)
	}
	st.Order, st.OrderExists = order, order != nil
	pending, err := c.pending.Get(ctx, orderNumber)
	if err != nil {
		return st, fmt.Errorf("load pending order: %w", err)
	}
	st.PendingExists = pending != nil
	return st, nil
}

// AttemptRecovery materializes the order only when its pending snapshot survives.
// With nothing but log entries it reports what is known and stops; it never builds
// an order from payment data.
func (c *Console) AttemptRecovery(ctx context.Context, orderNumber string) (RecoveryResult, error) {
	res := RecoveryResult{OrderNumber: orderNumber}
	st, err := c.PaymentStatus(ctx, orderNumber)
	if err != nil {
		return res, err
	}

	if st.OrderExists {
		res.Status, res.OrderID = StatusAlreadyMaterialized, st.Order.OrderID
		res.Message = "Order already exists; nothing to recover."
		return res, nil
	}

	if st.PendingExists && c.m != nil {
		r, err := c.m.MaterializeOnce(ctx, materializer.Request{OrderNumber: orderNumber, Source: materializer.SourceManualRecovery})
		if err != nil {
			return res, fmt.Errorf("recover %s: %w", orderNumber, err)
		}
		switch r.Outcome {
		case materializer.Created:
			log.Printf("[reconcile] recovered order=%s id=%s from surviving pending order", orderNumber, r.OrderID)
			res.Status, res.OrderID = StatusRecovered, r.OrderID
			res.Message = "Order created from the surviving pending order."
			return res, nil
		case materializer.AlreadyExists:
			res.Status, res.OrderID = StatusAlreadyMaterialized, r.OrderID
			res.Message = "Order already exists; nothing to recover."
			return res, nil
		}
		// the pending order vanished between the lookup and the attempt
	}

	res.Status = StatusCannotAutoRecover
	res.Known = known(st.Events)
	res.Message = "The payment log lacks customer and cart detail, so no order was created. " +
		"Resolve manually (refund or manual order entry) using the details below."
	log.Printf("[reconcile] order=%s cannot be auto-recovered (%d log events)", orderNumber, len(st.Events))
	return res, nil
}

func known(evs []paymentlog.Event) *Known {
	k := &Known{EventCount: len(evs)}
	for _, ev := range evs {
		if k.FirstSeen.IsZero() || ev.CreatedAt.Before(k.FirstSeen) {
			k.FirstSeen = ev.CreatedAt
		}
		if ev.CreatedAt.After(k.LastSeen) {
			k.LastSeen = ev.CreatedAt
		}
		if ev.PFPaymentID != "" {
			k.PFPaymentID = ev.PFPaymentID
		}
		if ev.PaymentStatus != "" {
			k.PaymentStatus = ev.PaymentStatus
		}
		if v := ev.EventData["amount_gross"]; v != "" {
			k.AmountGross = v
		}
		if v := ev.EventData["email_address"]; v != "" {
			k.Email = v
		}
		if first, last := ev.EventData["name_first"], ev.EventData["name_last"]; first != "" || last != "" {
			k.CustomerName = first + " " + last
		}
	}
	return k
}

// Report counts the log by event type and derives the success rate. An order number
// counts as orphaned when it hit pending_order_not_found and never completed.
func (c *Console) Report(ctx context.Context) (Report, error) {
	evs, err := c.events.All(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load events: %w", err)
	}
	var r Report
	orphaned, completed := map[string]bool{}, map[string]bool{}
	for _, ev := range evs {
		switch ev.EventType {
		case paymentlog.WebhookReceived:
			r.WebhooksReceived++
		case paymentlog.ProcessingCompleted:
			r.OrdersProcessed++
			completed[ev.MPaymentID] = true
		case paymentlog.ProcessingFailed:
			r.ProcessingFailures++
		case paymentlog.SignatureFailed:
			r.SignatureFailures++
		case paymentlog.PendingOrderNotFound:
			orphaned[ev.MPaymentID] = true
		}
	}
	for n := range orphaned {
		if completed[n] {
			continue
		}
		exists, err := c.orderExists(ctx, n)
		if err != nil {
			return Report{}, err
		}
		if !exists {
			r.OrphanedPayments++
		}
	}
	if r.WebhooksReceived > 0 {
		rate := decimal.NewFromInt(int64(r.OrdersProcessed)).
			Div(decimal.NewFromInt(int64(r.WebhooksReceived))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
		r.SuccessRate, _ = rate.Float64()
	}
	return r, nil
}

func (c *Console) orderExists(ctx context.Context, orderNumber string) (bool, error) {
	o, err := c.orders.Get(ctx, orderNumber)
	if err != nil {
		return false, fmt.Errorf("load order %s: %w", orderNumber, err)
	}
	return o != nil, nil
}
