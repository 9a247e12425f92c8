// Package realtime pushes cart changes to the owner's open websocket connections.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Client is one push connection.
type Client interface {
	WriteJSON(v any) error
	Close() error
}

// Registry tracks the connections of each cart owner.
type Registry interface {
	Add(owner string, c Client)
	Remove(owner string, c Client)
	Clients(owner string) []Client
}

// MemoryRegistry is a per-process Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	clients map[string]map[Client]struct{}
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{clients: map[string]map[Client]struct{}{}}
}

func (r *MemoryRegistry) Add(owner string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.clients[owner]
	if !ok {
		set = map[Client]struct{}{}
		r.clients[owner] = set
	}
	set[c] = struct{}{}
}

func (r *MemoryRegistry) Remove(owner string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.clients[owner]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.clients, owner)
		}
	}
}

func (r *MemoryRegistry) Clients(owner string) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients[owner]))
	for c := range r.clients[owner] {
		out = append(out, c)
	}
	return out
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *conn) writeRaw(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

func (c *conn) Close() error { return c.ws.Close() }

// Bus carries cart messages between processes. Every connection subscribes to
// its owner's channel, so a change made on one instance reaches sockets held by another.
type Bus interface {
	Publish(ctx context.Context, owner string, payload []byte) (int, error)
	Subscribe(ctx context.Context, owner string) (<-chan []byte, func() error, error)
}

// Hub upgrades connections and fans out messages by owner.
type Hub struct {
	registry  Registry
	bus       Bus
	upgrader  websocket.Upgrader
	pingEvery time.Duration
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBus routes broadcasts through bus instead of the local registry.
func WithBus(bus Bus) HubOption {
	return func(h *Hub) { h.bus = bus }
}

// NewHub returns a Hub over registry. checkOrigin may be nil to allow every origin.
func NewHub(registry Registry, checkOrigin func(r *http.Request) bool, opts ...HubOption) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	h := &Hub{
		registry:  registry,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		pingEvery: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Broadcast sends msg to every connection of owner and drops the ones that fail.
// It returns the number of connections reached, or with a bus the number of
// subscribed connections across all instances.
func (h *Hub) Broadcast(ctx context.Context, owner string, msg any) int {
	if h.bus != nil {
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[realtime] marshal message for %s: %v", owner, err)
			return 0
		}
		n, err := h.bus.Publish(ctx, owner, payload)
		if err != nil {
			log.Printf("[realtime] publish to %s failed: %v", owner, err)
			return 0
		}
		return n
	}
	sent := 0
	for _, c := range h.registry.Clients(owner) {
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("[realtime] dropping client of %s: %v", owner, err)
			h.registry.Remove(owner, c)
			_ = c.Close()
			continue
		}
		sent++
	}
	return sent
}

// Serve upgrades the request and holds the connection until the client leaves.
func (h *Hub) Serve(c *gin.Context, owner string) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[realtime] upgrade failed: %v", err)
		return
	}
	cl := &conn{ws: ws}
	h.registry.Add(owner, cl)
	defer func() {
		h.registry.Remove(owner, cl)
		_ = cl.Close()
	}()

	if err := cl.WriteJSON(gin.H{"type": "connected"}); err != nil {
		return
	}

	var updates <-chan []byte
	if h.bus != nil {
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		ch, unsubscribe, err := h.bus.Subscribe(ctx, owner)
		if err != nil {
			log.Printf("[realtime] subscribe %s failed: %v", owner, err)
			return
		}
		defer func() { _ = unsubscribe() }()
		updates = ch
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// client messages are ignored; reading surfaces the close
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case payload, ok := <-updates:
			if !ok {
				return
			}
			if err := cl.writeRaw(payload); err != nil {
				log.Printf("[realtime] write to %s failed: %v", owner, err)
				return
			}
		case <-ticker.C:
			if err := cl.ping(); err != nil {
				return
			}
		}
	}
}

// RedisBus is a Bus over Redis pub/sub with one channel per owner.
type RedisBus struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBus returns a RedisBus publishing on prefix+owner.
func NewRedisBus(client redis.UniversalClient, prefix string) *RedisBus {
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) Publish(ctx context.Context, owner string, payload []byte) (int, error) {
	n, err := b.client.Publish(ctx, b.prefix+owner, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish: %w", err)
	}
	return int(n), nil
}

// Subscribe waits for Redis to confirm the subscription so no publish after it returns is missed.
func (b *RedisBus) Subscribe(ctx context.Context, owner string) (<-chan []byte, func() error, error) {
	ps := b.client.Subscribe(ctx, b.prefix+owner)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, ps.Close, nil
}
