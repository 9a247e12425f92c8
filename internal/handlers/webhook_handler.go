package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/gateway"
	"github.com/imrishuroy/go-checkout-pipeline/internal/idempotency"
	"github.com/imrishuroy/go-checkout-pipeline/internal/materializer"
	"github.com/imrishuroy/go-checkout-pipeline/internal/paymentlog"
	"github.com/imrishuroy/go-checkout-pipeline/internal/signature"
)

// RegisterWebhookRoutes registers the gateway notification endpoint behind mw.
func RegisterWebhookRoutes(r *gin.Engine, s *app.Services, mw ...gin.HandlerFunc) {
	r.POST("/webhook/payment", append(mw, paymentWebhook(s))...)
}

func paymentWebhook(s *app.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if err := c.Request.ParseForm(); err != nil {
			log.Printf("[webhook] unreadable body: %v", err)
			s.PaymentLog.Record(ctx, paymentlog.Event{EventType: paymentlog.InvalidPayload, ErrorMessage: err.Error()})
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		fields := gateway.FieldsFromForm(c.Request.PostForm)
		base := paymentlog.Event{
			MPaymentID:    fields["m_payment_id"],
			PFPaymentID:   fields["pf_payment_id"],
			PaymentStatus: fields["payment_status"],
		}
		s.PaymentLog.Record(ctx, withType(base, paymentlog.WebhookReceived, withoutSignature(fields), ""))
		log.Printf("[webhook] received order=%s pf_payment_id=%s status=%s", base.MPaymentID, base.PFPaymentID, base.PaymentStatus)

		pay, err := s.Gateway.VerifyWebhook(fields)
		switch {
		case errors.Is(err, gateway.ErrInvalidPayload):
			s.PaymentLog.Record(ctx, withType(base, paymentlog.InvalidPayload, nil, err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		case errors.Is(err, gateway.ErrSignature):
			log.Printf("[webhook] signature mismatch for order=%s", base.MPaymentID)
			s.PaymentLog.Record(ctx, withType(base, paymentlog.SignatureFailed, nil, err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "signature_invalid"})
			return
		case err != nil:
			log.Printf("[webhook] verify failed: %v", err)
			internalError(c, "verification_failed")
			return
		}
		verified := map[string]string{}
		if pay.SignatureBypassed {
			verified["verification"] = "skipped_sandbox"
		}
		s.PaymentLog.Record(ctx, withType(base, paymentlog.SignatureVerified, verified, ""))

		if !pay.Complete() {
			log.Printf("[webhook] order=%s status %q does not trigger an order", pay.OrderNumber, pay.Status)
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		if s.Config.WebhookAsync {
			enqueue(c, s, pay)
			return
		}

		res, err := s.Retrier.Run(ctx, materializer.Request{
			OrderNumber: pay.OrderNumber,
			Source:      materializer.SourceWebhook,
			Payment:     pay,
		})
		if err != nil {
			log.Printf("[webhook] processing failed for order=%s: %v", pay.OrderNumber, err)
			internalError(c, "processing_failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "processed", "outcome": res.Outcome, "order_id": res.OrderID})
	}
}

// enqueue records the delivery and hands it to the worker. Redeliveries of a finished
// or queued payment are acknowledged without a second message.
func enqueue(c *gin.Context, s *app.Services, pay *gateway.VerifiedPayment) {
	ctx := c.Request.Context()
	key := pay.PFPaymentID
	if key == "" {
		key = "order:" + pay.OrderNumber
	}

	created, err := s.Deliveries.CreateIfNotExists(ctx, key, pay.OrderNumber)
	if err != nil {
		log.Printf("[webhook] delivery record failed for %s: %v", key, err)
		internalError(c, "enqueue_failed")
		return
	}
	if !created {
		rec, err := s.Deliveries.Get(ctx, key)
		if err != nil || rec == nil {
			log.Printf("[webhook] delivery record unreadable for %s: %v", key, err)
			internalError(c, "enqueue_failed")
			return
		}
		switch rec.Status {
		case idempotency.StatusDone:
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "order_id": rec.OrderID})
			return
		case idempotency.StatusFailed:
			reclaimed, err := s.Deliveries.Reclaim(ctx, key)
			if err != nil {
				log.Printf("[webhook] reclaim failed for %s: %v", key, err)
				internalError(c, "enqueue_failed")
				return
			}
			if !reclaimed {
				c.JSON(http.StatusOK, gin.H{"status": "queued"})
				return
			}
		default:
			c.JSON(http.StatusOK, gin.H{"status": "queued"})
			return
		}
	}

	job := app.WebhookJob{
		DeliveryKey:   key,
		OrderNumber:   pay.OrderNumber,
		PFPaymentID:   pay.PFPaymentID,
		PaymentStatus: pay.Status,
		AmountGross:   pay.AmountGross,
	}
	attrs := map[string]string{
		"delivery_key":   key,
		"order_number":   pay.OrderNumber,
		"correlation_id": c.GetHeader("X-Request-Id"),
	}
	if err := s.Publisher.Publish(ctx, job, attrs); err != nil {
		log.Printf("[webhook] publish failed for %s: %v", key, err)
		if mErr := s.Deliveries.MarkFailed(ctx, key, "sqs_send_failed: "+err.Error()); mErr != nil {
			log.Printf("[webhook] mark %s failed: %v", key, mErr)
		}
		internalError(c, "enqueue_failed")
		return
	}
	log.Printf("[webhook] queued order=%s delivery=%s", pay.OrderNumber, key)
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

func withType(base paymentlog.Event, t paymentlog.EventType, data map[string]string, errMsg string) paymentlog.Event {
	base.EventType = t
	base.EventData = data
	base.ErrorMessage = errMsg
	return base
}

func withoutSignature(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k != signature.FieldName && v != "" {
			out[k] = v
		}
	}
	return out
}
