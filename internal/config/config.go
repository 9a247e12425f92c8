// Package config loads service configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SandboxEndpoint = "https://sandbox.payfast.co.za/eng/process"
	LiveEndpoint    = "https://www.payfast.co.za/eng/process"
)

// Gateway holds merchant credentials and callback URLs.
type Gateway struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Sandbox     bool
	SiteURL     string
}

// Endpoint is the form POST target for the configured mode.
func (g Gateway) Endpoint() string {
	if g.Sandbox {
		return SandboxEndpoint
	}
	return LiveEndpoint
}

// ReturnURL is where the gateway sends the browser after a successful payment.
func (g Gateway) ReturnURL(orderNumber string) string {
	return g.base() + "/payment/success?order=" + orderNumber
}

// CancelURL is where the gateway sends the browser after a cancelled payment.
func (g Gateway) CancelURL(orderNumber string) string {
	return g.base() + "/payment/cancelled?order=" + orderNumber
}

// NotifyURL receives the asynchronous webhook.
func (g Gateway) NotifyURL() string {
	return g.base() + "/webhook/payment"
}

func (g Gateway) base() string {
	return strings.TrimRight(g.SiteURL, "/")
}

// Tables names every DynamoDB table the service touches.
type Tables struct {
	PendingOrders string
	Orders        string
	OrderItems    string
	CartItems     string
	CartSessions  string
	PaymentLogs   string
	Products      string
	Idempotency   string
}

// SMTP configures confirmation mail delivery. An empty Host disables sending.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Config is the full runtime configuration.
type Config struct {
	Gateway Gateway
	Tables  Tables
	SMTP    SMTP

	WebhookQueueURL string
	WebhookAsync    bool

	RateLimitMax    int
	RateLimitWindow time.Duration
	RedisAddr       string
	RedisPassword   string

	JWTSecret        string
	MetricsNamespace string

	MaterializeAttempts   int
	MaterializeRetryDelay time.Duration
	PendingOrderTTL       time.Duration
}

// Load reads .env when present and then the process environment.
func Load() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("[config] no .env file, using process environment")
	}

	return Config{
		Gateway: Gateway{
			MerchantID:  os.Getenv("GATEWAY_MERCHANT_ID"),
			MerchantKey: os.Getenv("GATEWAY_MERCHANT_KEY"),
			Passphrase:  os.Getenv("GATEWAY_PASSPHRASE"),
			Sandbox:     envBool("GATEWAY_SANDBOX", true),
			SiteURL:     envString("SITE_URL", "http://localhost:8080"),
		},
		Tables: Tables{
			PendingOrders: envString("PENDING_ORDERS_TABLE", "pending_orders"),
			Orders:        envString("ORDERS_TABLE", "orders"),
			OrderItems:    envString("ORDER_ITEMS_TABLE", "order_items"),
			CartItems:     envString("CART_ITEMS_TABLE", "cart_items"),
			CartSessions:  envString("CART_SESSIONS_TABLE", "cart_sessions"),
			PaymentLogs:   envString("PAYMENT_LOGS_TABLE", "payment_logs"),
			Products:      envString("PRODUCTS_TABLE", "products"),
			Idempotency:   envString("IDEMPOTENCY_TABLE", "idempotency"),
		},
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     envString("MAIL_FROM", "orders@localhost"),
		},
		WebhookQueueURL:       os.Getenv("WEBHOOK_QUEUE_URL"),
		WebhookAsync:          envBool("WEBHOOK_ASYNC", false),
		RateLimitMax:          envInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		MetricsNamespace:      envString("METRICS_NAMESPACE", "Checkout"),
		MaterializeAttempts:   envInt("MATERIALIZE_ATTEMPTS", 3),
		MaterializeRetryDelay: envDuration("MATERIALIZE_RETRY_DELAY", time.Second),
		PendingOrderTTL:       envDuration("PENDING_ORDER_TTL", 24*time.Hour),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
