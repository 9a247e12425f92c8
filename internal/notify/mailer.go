// Package notify sends order confirmation e-mail.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"

	"github.com/wneessen/go-mail"

	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
	"github.com/imrishuroy/go-checkout-pipeline/internal/gateway"
	"github.com/imrishuroy/go-checkout-pipeline/internal/orders"
)

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"money": gateway.FormatAmount,
}).Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif;">
<h2>Thank you for your order, {{.CustomerName}}</h2>
<p>Order number: <strong>{{.OrderNumber}}</strong></p>
<table style="border-collapse: collapse;">
<tr><th align="left">Product</th><th>Qty</th><th align="right">Price</th><th align="right">Total</th></tr>
{{range .Items}}<tr><td>{{.ProductName}}</td><td align="center">{{.Quantity}}</td><td align="right">{{money .UnitPrice}}</td><td align="right">{{money .TotalPrice}}</td></tr>
{{end}}<tr><td colspan="3">Delivery ({{.DeliveryMethod}})</td><td align="right">{{money .DeliveryFee}}</td></tr>
<tr><td colspan="3"><strong>Total</strong></td><td align="right"><strong>{{money .TotalAmount}}</strong></td></tr>
</table>
<p>If anything looks wrong, contact support and quote your order number.</p>
</body></html>`))

// RenderConfirmation renders the confirmation e-mail body.
func RenderConfirmation(o orders.Order) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, o); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

// Mailer delivers confirmations over SMTP. With no SMTP host configured it only logs.
type Mailer struct {
	cfg config.SMTP
}

// NewMailer returns a Mailer for cfg.
func NewMailer(cfg config.SMTP) *Mailer {
	return &Mailer{cfg: cfg}
}

// OrderConfirmed e-mails the customer a summary of o.
func (m *Mailer) OrderConfirmed(ctx context.Context, o orders.Order) error {
	body, err := RenderConfirmation(o)
	if err != nil {
		return err
	}
	if m.cfg.Host == "" {
		log.Printf("[notify] smtp disabled, skipping confirmation for order=%s", o.OrderNumber)
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := msg.To(o.Email); err != nil {
		return fmt.Errorf("mail to: %w", err)
	}
	msg.Subject("Order confirmation " + o.OrderNumber)
	msg.SetBodyString(mail.TypeTextHTML, body)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	log.Printf("[notify] confirmation sent for order=%s", o.OrderNumber)
	return nil
}
