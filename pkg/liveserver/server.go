package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	websocketActiveConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "websocket_active_connections",
		Help: "Current number of active WebSocket connections",
	}, []string{"endpoint"})

	websocketRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_rejected_total",
		Help: "Total number of rejected WebSocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections)
	prometheus.MustRegister(websocketRejectedTotal)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Options configures connection admission for a Handler. Zero values fall
// back to the package defaults.
type Options struct {
	AllowedOrigins []string
	MaxConnections int
	RateLimit      float64
	RateBurst      int
	// Production rejects wildcard origins instead of merely warning
	Production bool
}

// Handler upgrades HTTP requests to WebSocket connections and attaches
// them to a Hub. It implements http.Handler so the owning server can
// mount it on any route.
type Handler struct {
	hub            *Hub
	logger         Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	production     bool

	connSemaphore chan struct{}

	ipLimiters sync.Map // map[string]*rate.Limiter
	rateLimit  rate.Limit
	rateBurst  int
}

// NewHandler creates a handler broadcasting through hub
func NewHandler(hub *Hub, logger Logger, opts Options) *Handler {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 1000
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10.0
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	h := &Handler{
		hub:            hub,
		logger:         logger,
		allowedOrigins: opts.AllowedOrigins,
		production:     opts.Production,
		connSemaphore:  make(chan struct{}, opts.MaxConnections),
		rateLimit:      rate.Limit(opts.RateLimit),
		rateBurst:      opts.RateBurst,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the connection origin against the whitelist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	if origin == "" {
		if h.logger != nil {
			h.logger.Warn("Rejected WebSocket connection with missing Origin header",
				"remote_addr", r.RemoteAddr)
		}
		return false
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("Rejected WebSocket connection with invalid Origin",
				"origin", origin, "error", err)
		}
		return false
	}

	originStr := parsedOrigin.Scheme + "://" + parsedOrigin.Host

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			if h.production {
				if h.logger != nil {
					h.logger.Warn("Rejected wildcard origin in production mode",
						"origin", origin, "remote_addr", r.RemoteAddr)
				}
				websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	if h.logger != nil {
		h.logger.Warn("Rejected WebSocket connection from unauthorized origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", h.allowedOrigins)
	}
	websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// ServeHTTP admits, upgrades and serves one client connection. It returns
// when the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Admission runs before the upgrade so a rejected client never costs
	// a WebSocket handshake.
	ip := h.remoteIP(r)
	if !h.ipLimiter(ip).Allow() {
		if h.logger != nil {
			h.logger.Warn("IP rate limit exceeded", "ip", ip)
		}
		websocketRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case h.connSemaphore <- struct{}{}:
		websocketActiveConnections.WithLabelValues(r.URL.Path).Inc()
		defer func() {
			<-h.connSemaphore
			websocketActiveConnections.WithLabelValues(r.URL.Path).Dec()
		}()
	default:
		if h.logger != nil {
			h.logger.Warn("Max connections reached")
		}
		websocketRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("WebSocket upgrade failed", "error", err)
		}
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID)
	h.hub.Register(client)

	if h.logger != nil {
		h.logger.Info("Client connected", "client_id", clientID, "remote_addr", r.RemoteAddr)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		h.readPump(conn, client)
	}()
	wg.Wait()

	h.hub.Unregister(client)
	conn.Close()

	if h.logger != nil {
		h.logger.Info("Client disconnected", "client_id", clientID)
	}
}

// writePump drains the client's hub mailbox onto the wire and keeps the
// connection alive with periodic pings
func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteJSON(msg); err != nil {
				if h.logger != nil {
					h.logger.Warn("Write error", "client_id", client.id, "error", err)
				}
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames to service pong responses. Clients never
// send application data; the stream is one-way.
func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Unregister(client)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if h.logger != nil {
					h.logger.Warn("Read error", "client_id", client.id, "error", err)
				}
			}
			break
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Handler) ClientCount() int {
	return h.hub.ClientCount()
}

// remoteIP extracts the client IP. RemoteAddr is trusted over forwarding
// headers, which a client can spoof.
func (h *Handler) remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipLimiter returns or creates the rate limiter for ip
func (h *Handler) ipLimiter(ip string) *rate.Limiter {
	if val, ok := h.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(h.rateLimit, h.rateBurst)
	actual, _ := h.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

// NewMessage creates a typed envelope for broadcast
func NewMessage(msgType string, data interface{}) Message {
	return Message{
		Type: msgType,
		Data: data,
	}
}
