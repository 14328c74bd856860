// Package websocket implements the collaboration transport: it accepts
// client connections, dispatches their requests into the engine, and fans
// engine events back out to the affected connections.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cartoworks/cartoworks/internal/collab"
	"github.com/cartoworks/cartoworks/internal/config"
	wsmodel "github.com/cartoworks/cartoworks/pkg/models/websocket"
	"github.com/cartoworks/cartoworks/pkg/observability"
)

// Server owns the websocket connections and implements the engine's event
// sink. Construct it first, hand it to the engine, then call SetEngine.
type Server struct {
	config  config.WebSocketConfig
	engine  *collab.Engine
	logger  observability.Logger
	metrics *MetricsCollector

	mu          sync.RWMutex
	connections map[string]*Connection

	limiterMu  sync.Mutex
	ipLimiters map[string]*rate.Limiter

	handlers map[string]MessageHandler
}

// NewServer creates the transport server.
func NewServer(cfg config.WebSocketConfig, logger observability.Logger, metrics observability.MetricsClient) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	s := &Server{
		config:      cfg,
		logger:      logger.WithPrefix("ws"),
		metrics:     NewMetricsCollector(metrics),
		connections: make(map[string]*Connection),
		ipLimiters:  make(map[string]*rate.Limiter),
	}
	s.registerHandlers()
	return s
}

// SetEngine binds the collaboration engine. Must be called before serving.
func (s *Server) SetEngine(engine *collab.Engine) {
	s.engine = engine
}

// Notify implements collab.EventSink: it delivers a notification frame to
// each of the given connections. Delivery is best effort per connection.
func (s *Server) Notify(connectionIDs []string, method string, params interface{}) {
	payload, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("marshal notification", map[string]interface{}{
			"method": method,
			"error":  err.Error(),
		})
		return
	}
	data, err := json.Marshal(wsmodel.Message{
		Type:   wsmodel.MessageTypeNotification,
		Method: method,
		Params: payload,
	})
	if err != nil {
		return
	}

	s.mu.RLock()
	targets := make([]*Connection, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if conn, ok := s.connections[id]; ok {
			targets = append(targets, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range targets {
		conn.enqueue(data)
	}
}

// HandleWebSocket upgrades an HTTP request and serves the connection until
// it closes. It blocks for the connection's lifetime.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.allowAccept(ip) {
		s.metrics.RecordError("accept_rate_limited")
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	userLabel := s.userLabel(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.AllowedOrigins,
	})
	if err != nil {
		s.metrics.RecordError("accept_failed")
		s.logger.Debug("websocket accept failed", map[string]interface{}{
			"remote_ip": ip,
			"error":     err.Error(),
		})
		return
	}
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	c := newConnection(uuid.New().String(), conn, s, userLabel, ip)
	s.addConnection(c)

	s.logger.Info("connection opened", map[string]interface{}{
		"connection_id": c.ID,
		"remote_ip":     ip,
		"user":          userLabel,
	})

	ctx := r.Context()
	go c.writePump(ctx)
	c.readPump(ctx)
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Close drops every connection. Used during shutdown.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

func (s *Server) addConnection(c *Connection) {
	s.mu.Lock()
	s.connections[c.ID] = c
	s.mu.Unlock()
	s.metrics.RecordConnectionOpened()
}

// removeConnection is called exactly once per connection, from readPump's
// teardown. Engine cleanup happens here so transport death and session
// departure cannot diverge.
func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c.ID)
	s.mu.Unlock()

	if s.engine != nil {
		if mapID, ok := s.engine.Disconnect(context.Background(), c.ID); ok {
			s.logger.Info("connection left map", map[string]interface{}{
				"connection_id": c.ID,
				"map_id":        mapID,
			})
		}
	}
	s.metrics.RecordConnectionClosed(time.Since(c.CreatedAt))
}

// allowAccept rate-limits connection attempts per client IP.
func (s *Server) allowAccept(ip string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.ipLimiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(5), 10)
		s.ipLimiters[ip] = limiter
	}
	return limiter.Allow()
}

// userLabel extracts a display label from a bearer token when a JWT secret
// is configured. Authentication proper lives upstream; the label is only
// cosmetic and an absent or invalid token leaves the connection anonymous.
func (s *Server) userLabel(r *http.Request) string {
	if s.config.JWTSecret == "" {
		return ""
	}
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return ""
	}

	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		s.logger.Debug("bearer token rejected", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return claims.Subject
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
