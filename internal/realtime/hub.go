// Package realtime relays order notifications to live-view WebSocket clients.
package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// SendBuffer is the number of pending messages kept per client. Messages
	// for a client with a full buffer are dropped.
	SendBuffer     int
	WriteTimeout   time.Duration
	OriginPatterns []string
}

type client struct {
	send chan []byte
}

// Hub tracks connected WebSocket clients and broadcasts messages to them.
// It is safe for concurrent use.
type Hub struct {
	cfg HubConfig

	mu      sync.RWMutex
	clients map[*client]struct{}

	done      chan struct{}
	closeOnce sync.Once

	connected metric.Int64UpDownCounter
	dropped   metric.Int64Counter
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig, mp metric.MeterProvider) (*Hub, error) {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	meter := mp.Meter("github.com/xenking/mojito-bar/internal/realtime")
	connected, err := meter.Int64UpDownCounter("realtime.clients",
		metric.WithDescription("Connected live-view clients"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "clients counter")
	}
	dropped, err := meter.Int64Counter("realtime.messages.dropped",
		metric.WithDescription("Messages dropped for slow clients"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "dropped counter")
	}

	return &Hub{
		cfg:       cfg,
		clients:   map[*client]struct{}{},
		done:      make(chan struct{}),
		connected: connected,
		dropped:   dropped,
	}, nil
}

// ServeHTTP upgrades the request to a WebSocket and streams broadcasts to it
// until either side closes the connection. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	// Live-view connections outlive the server read and write timeouts.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		lg.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := conn.CloseRead(r.Context())
	c := &client{send: make(chan []byte, h.cfg.SendBuffer)}
	h.add(ctx, c)
	defer h.remove(ctx, c)

	lg.Debug("Live-view client connected")
	for {
		select {
		case <-ctx.Done():
			lg.Debug("Live-view client disconnected")
			return
		case <-h.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-c.send:
			if err := h.write(ctx, conn, msg); err != nil {
				lg.Debug("Live-view write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

func (h *Hub) add(ctx context.Context, c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.connected.Add(ctx, 1)
}

func (h *Hub) remove(ctx context.Context, c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.connected.Add(context.WithoutCancel(ctx), -1)
}

// Close disconnects every client. Connections accepted afterwards are closed
// immediately.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends {"event": event, "data": data} to every connected client.
// data must be valid JSON.
func (h *Hub) Broadcast(ctx context.Context, event string, data []byte) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event")
	e.Str(event)
	e.FieldStart("data")
	e.Raw(data)
	e.ObjEnd()
	msg := e.Bytes()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(ctx, 1)
		}
	}
}

// EventName converts a notification channel name to the event name sent to
// clients: order_state_changed becomes orderStateChanged.
func EventName(channel string) string {
	parts := strings.Split(channel, "_")
	var b strings.Builder
	b.Grow(len(channel))
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
