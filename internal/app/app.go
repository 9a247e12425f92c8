// Package app wires the checkout pipeline's stores and services from configuration.
package app

import (
	"log"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-checkout-pipeline/internal/auth"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
	"github.com/imrishuroy/go-checkout-pipeline/internal/cart"
	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
	"github.com/imrishuroy/go-checkout-pipeline/internal/gateway"
	"github.com/imrishuroy/go-checkout-pipeline/internal/idempotency"
	"github.com/imrishuroy/go-checkout-pipeline/internal/inventory"
	"github.com/imrishuroy/go-checkout-pipeline/internal/materializer"
	"github.com/imrishuroy/go-checkout-pipeline/internal/notify"
	"github.com/imrishuroy/go-checkout-pipeline/internal/orders"
	"github.com/imrishuroy/go-checkout-pipeline/internal/paymentlog"
	"github.com/imrishuroy/go-checkout-pipeline/internal/ratelimit"
	"github.com/imrishuroy/go-checkout-pipeline/internal/realtime"
	"github.com/imrishuroy/go-checkout-pipeline/internal/reconcile"
	"github.com/imrishuroy/go-checkout-pipeline/internal/validation"
)

// deliveryTTL outlives the gateway's redelivery schedule.
const deliveryTTL = 48 * time.Hour

// Services holds everything the HTTP handlers, the worker and the CLI use.
type Services struct {
	Config config.Config

	Gateway      *gateway.Adapter
	Orders       *orders.Store
	Pending      *orders.PendingStore
	Inventory    *inventory.Store
	PaymentLog   *paymentlog.Store
	Materializer *materializer.Materializer
	Retrier      *materializer.Retrier
	Deliveries   *idempotency.Store
	Publisher    *aws.Publisher

	Cart     *cart.Store
	Migrator *cart.Migrator
	Hub      *realtime.Hub

	Console  *reconcile.Console
	Auth     *auth.Verifier
	Limiter  *ratelimit.Limiter
	Validate *validatorv10.Validate
}

// New builds Services over the given AWS clients.
func New(cfg config.Config, clients *aws.AWSClients) *Services {
	t := cfg.Tables
	metrics := aws.NewMetricEmitter(clients.CloudWatch, cfg.MetricsNamespace)

	s := &Services{
		Config:     cfg,
		Gateway:    gateway.New(cfg.Gateway),
		Orders:     orders.NewStore(clients.DynamoDB, t.Orders, t.OrderItems),
		Pending:    orders.NewPendingStore(clients.DynamoDB, t.PendingOrders, cfg.PendingOrderTTL),
		Inventory:  inventory.NewStore(clients.DynamoDB, t.Products),
		PaymentLog: paymentlog.NewStore(clients.DynamoDB, t.PaymentLogs),
		Deliveries: idempotency.NewStore(clients.DynamoDB, t.Idempotency, deliveryTTL),
		Publisher:  aws.NewPublisher(clients.SQS, cfg.WebhookQueueURL),
		Hub:        cartHub(cfg),
		Auth:       auth.NewVerifier(cfg.JWTSecret),
		Limiter:    ratelimit.New(rateLimitStore(cfg), cfg.RateLimitMax, cfg.RateLimitWindow),
		Validate:   validation.New(),
	}
	s.Cart = cart.NewStore(clients.DynamoDB, t.CartItems, t.CartSessions, s.Inventory)
	s.Migrator = cart.NewMigrator(s.Cart, cart.MetricsAuditor{Metrics: metrics})
	s.Materializer = materializer.New(s.Orders, s.Pending, s.PaymentLog,
		materializer.WithInventory(s.Inventory),
		materializer.WithNotifier(notify.NewMailer(cfg.SMTP)),
		materializer.WithMetrics(metrics),
		materializer.WithSessions(s.Cart),
	)
	s.Retrier = materializer.NewRetrier(s.Materializer, cfg.MaterializeAttempts, cfg.MaterializeRetryDelay)
	s.Console = reconcile.NewConsole(s.PaymentLog, s.Orders, s.Pending, s.Materializer)

	if cfg.WebhookAsync && cfg.WebhookQueueURL == "" {
		log.Println("[app] WEBHOOK_ASYNC set without WEBHOOK_QUEUE_URL, falling back to synchronous processing")
		s.Config.WebhookAsync = false
	}
	return s
}

func rateLimitStore(cfg config.Config) ratelimit.Store {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryStore()
	}
	return ratelimit.NewRedisStore(redisClient(cfg), "ratelimit:")
}

// cartHub shares cart pushes across instances when Redis is configured.
func cartHub(cfg config.Config) *realtime.Hub {
	if cfg.RedisAddr == "" {
		return realtime.NewHub(realtime.NewMemoryRegistry(), nil)
	}
	return realtime.NewHub(realtime.NewMemoryRegistry(), nil,
		realtime.WithBus(realtime.NewRedisBus(redisClient(cfg), "cart:")))
}

func redisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

// WebhookJob is the queued form of a verified COMPLETE notification.
type WebhookJob struct {
	DeliveryKey   string `json:"delivery_key"`
	OrderNumber   string `json:"order_number"`
	PFPaymentID   string `json:"pf_payment_id,omitempty"`
	PaymentStatus string `json:"payment_status"`
	AmountGross   string `json:"amount_gross,omitempty"`
}

// Request converts the job into a materialization request.
func (j WebhookJob) Request() materializer.Request {
	return materializer.Request{
		OrderNumber: j.OrderNumber,
		Source:      materializer.SourceWebhook,
		Payment: &gateway.VerifiedPayment{
			OrderNumber: j.OrderNumber,
			PFPaymentID: j.PFPaymentID,
			Status:      j.PaymentStatus,
			AmountGross: j.AmountGross,
		},
	}
}
