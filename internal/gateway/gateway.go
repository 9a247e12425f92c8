// Package gateway adapts the redirect-based payment gateway: outbound form payloads
// and inbound webhook (ITN) verification.
package gateway

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
	"github.com/imrishuroy/go-checkout-pipeline/internal/signature"
)

// maxDescriptionLen is the gateway's limit on item_name / item_description.
const maxDescriptionLen = 100

// StatusComplete is the only gateway status that triggers order materialization.
const StatusComplete = "COMPLETE"

var (
	// ErrSignature means the webhook signature did not match the recomputation.
	ErrSignature = errors.New("webhook signature invalid")
	// ErrInvalidPayload means the webhook lacks fields required to correlate it.
	ErrInvalidPayload = errors.New("webhook payload invalid")
)

// RedirectOrder is the checkout intent sent to the gateway.
type RedirectOrder struct {
	ID            string
	Amount        float64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ItemsSummary  string
}

// ReturnURLs are the three gateway callbacks.
type ReturnURLs struct {
	Return string
	Cancel string
	Notify string
}

// Redirect is what the browser must POST to the gateway.
type Redirect struct {
	EndpointURL string            `json:"endpoint_url"`
	FormFields  map[string]string `json:"form_fields"`
}

// VerifiedPayment is a webhook whose signature was checked (or knowingly bypassed in sandbox).
type VerifiedPayment struct {
	OrderNumber       string
	PFPaymentID       string
	Status            string
	AmountGross       string
	AmountFee         string
	AmountNet         string
	SignatureBypassed bool
	Fields            map[string]string
}

// Complete reports whether the gateway says the payment went through.
func (p VerifiedPayment) Complete() bool {
	return p.Status == StatusComplete
}

// Gross parses amount_gross; ok is false when absent or malformed.
func (p VerifiedPayment) Gross() (decimal.Decimal, bool) {
	if p.AmountGross == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(p.AmountGross)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Adapter builds and verifies gateway payloads for one merchant account.
type Adapter struct {
	cfg config.Gateway
}

// New returns an Adapter for cfg.
func New(cfg config.Gateway) *Adapter {
	return &Adapter{cfg: cfg}
}

// Sandbox reports whether the adapter targets the gateway's sandbox.
func (a *Adapter) Sandbox() bool { return a.cfg.Sandbox }

// URLsFor derives the callback URLs for an order from the site base URL.
func (a *Adapter) URLsFor(orderNumber string) ReturnURLs {
	return ReturnURLs{
		Return: a.cfg.ReturnURL(url.QueryEscape(orderNumber)),
		Cancel: a.cfg.CancelURL(url.QueryEscape(orderNumber)),
		Notify: a.cfg.NotifyURL(),
	}
}

// BuildRedirect returns the signed form the browser submits to the gateway.
func (a *Adapter) BuildRedirect(order RedirectOrder, urls ReturnURLs) Redirect {
	first, last := splitName(order.CustomerName)
	fields := map[string]string{
		"merchant_id":      a.cfg.MerchantID,
		"merchant_key":     a.cfg.MerchantKey,
		"return_url":       urls.Return,
		"cancel_url":       urls.Cancel,
		"notify_url":       urls.Notify,
		"name_first":       first,
		"name_last":        last,
		"email_address":    order.CustomerEmail,
		"cell_number":      order.CustomerPhone,
		"m_payment_id":     order.ID,
		"amount":           FormatAmount(order.Amount),
		"item_name":        truncate("Order "+order.ID, maxDescriptionLen),
		"item_description": truncate(order.ItemsSummary, maxDescriptionLen),
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	fields[signature.FieldName] = signature.Sign(fields, a.cfg.Passphrase)

	return Redirect{EndpointURL: a.cfg.Endpoint(), FormFields: fields}
}

// VerifyWebhook checks the webhook signature over every field except "signature".
// Outside sandbox a mismatch returns ErrSignature. In sandbox the mismatch is logged
// and the payment is returned with SignatureBypassed set.
func (a *Adapter) VerifyWebhook(fields map[string]string) (*VerifiedPayment, error) {
	orderNumber := strings.TrimSpace(fields["m_payment_id"])
	if orderNumber == "" {
		return nil, fmt.Errorf("%w: missing m_payment_id", ErrInvalidPayload)
	}

	p := &VerifiedPayment{
		OrderNumber: orderNumber,
		PFPaymentID: fields["pf_payment_id"],
		Status:      fields["payment_status"],
		AmountGross: fields["amount_gross"],
		AmountFee:   fields["amount_fee"],
		AmountNet:   fields["amount_net"],
		Fields:      fields,
	}

	if err := signature.Check(fields, fields[signature.FieldName], a.cfg.Passphrase); err != nil {
		if !a.cfg.Sandbox {
			return nil, fmt.Errorf("%w: order %s", ErrSignature, orderNumber)
		}
		log.Printf("[gateway] sandbox mode: signature verification skipped for order=%s", orderNumber)
		p.SignatureBypassed = true
	}
	return p, nil
}

// FieldsFromForm flattens a parsed form body, keeping the first value of each key.
func FieldsFromForm(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// FormatAmount renders amount with exactly two decimals.
func FormatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func truncate(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}
