package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Selina744/group-planner-sub000/realtime"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024

	// Outbound frames buffered per client before it counts as slow.
	defaultSendBuffer = 256
)

// Service is the part of realtime.Service the transport drives.
type Service interface {
	Connect(ctx context.Context, hs realtime.Handshake, peer realtime.Peer) (string, error)
	Handle(ctx context.Context, id string, frame []byte)
	Disconnect(id, reason string)
}

// Options tunes the socket pumps. Zero values take the defaults above.
type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	WriteWait       time.Duration
	PongWait        time.Duration

	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Hub upgrades HTTP requests into realtime connections and runs one read
// and one write pump per client.
type Hub struct {
	svc      Service
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a new WebSocket hub
func NewHub(svc Service, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		svc:    svc,
		opts:   opts,
		logger: opts.Logger.With("component", "websocket"),
		ctx:    ctx,
		cancel: cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates the request and, when accepted, upgrades it.
// Rejected handshakes get a 401 and are never upgraded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	client := &Client{
		hub:  h,
		send: make(chan []byte, h.opts.SendBuffer),
	}

	id, err := h.svc.Connect(r.Context(), handshakeFrom(r), client)
	if err != nil {
		status, reason := http.StatusServiceUnavailable, "unavailable"
		var ae *realtime.AuthError
		if errors.As(err, &ae) {
			status, reason = http.StatusUnauthorized, ae.Reason
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": reason})
		return
	}
	client.id = id

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "conn_id", id, "error", err)
		h.svc.Disconnect(id, "upgrade failed")
		return
	}
	client.conn = conn

	// Start client goroutines
	h.wg.Add(2)
	go client.writePump()
	go client.readPump()
}

// Close stops in-flight frame handling. Sockets close as the realtime
// service tears their connections down.
func (h *Hub) Close() {
	h.cancel()
}

// Wait blocks until every pump has exited or ctx is done.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func handshakeFrom(r *http.Request) realtime.Handshake {
	return realtime.Handshake{
		Header:     r.Header.Clone(),
		Query:      r.URL.Query(),
		Cookie:     r.Header.Get("Cookie"),
		RemoteAddr: clientIP(r),
		UserAgent:  r.UserAgent(),
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Client is one websocket connection. It implements realtime.Peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu     sync.Mutex
	closed bool
}

// Send queues frame without blocking. It reports false when the buffer is
// full or the client is closed.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close ends the write pump, which sends a close frame and drops the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps frames from the WebSocket connection to the realtime service
func (c *Client) readPump() {
	defer func() {
		c.hub.svc.Disconnect(c.id, "client disconnected")
		c.conn.Close()
		c.hub.wg.Done()
	}()

	pongWait := c.hub.opts.PongWait
	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "conn_id", c.id, "error", err)
			}
			break
		}
		c.hub.svc.Handle(c.hub.ctx, c.id, message)
	}
}

// writePump pumps frames from the send queue to the WebSocket connection.
// Each frame is written as its own text message.
func (c *Client) writePump() {
	writeWait := c.hub.opts.WriteWait
	ticker := time.NewTicker(c.hub.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The service closed the channel
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
