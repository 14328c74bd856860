package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	wsmodel "github.com/cartoworks/cartoworks/pkg/models/websocket"
)

// Connection is one live client channel. Reads are pumped by readPump in the
// accept handler's goroutine; all writes go through the send channel so the
// socket has a single writer.
type Connection struct {
	wsmodel.Connection

	conn    *websocket.Conn
	server  *Server
	send    chan []byte
	limiter *rate.Limiter
	done    chan struct{}
}

func newConnection(id string, conn *websocket.Conn, server *Server, userLabel, remoteIP string) *Connection {
	c := &Connection{
		conn:    conn,
		server:  server,
		send:    make(chan []byte, server.config.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(server.config.RateLimit), server.config.RateBurst),
		done:    make(chan struct{}),
	}
	c.ID = id
	c.UserLabel = userLabel
	c.RemoteIP = remoteIP
	c.CreatedAt = time.Now()
	c.LastPing = time.Now()
	c.SetState(wsmodel.ConnectionStateConnected)
	return c
}

// enqueue hands a frame to the write pump without blocking. A client that
// cannot drain its queue loses broadcasts rather than stalling the engine.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.server.metrics.RecordDroppedBroadcast()
		c.server.logger.Warn("outbound queue full, dropping frame", map[string]interface{}{
			"connection_id": c.ID,
		})
		return false
	}
}

// readPump reads frames until the connection dies, dispatching each message
// to the server's handlers. It owns connection teardown.
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.SetState(wsmodel.ConnectionStateClosing)
		close(c.done)
		c.server.removeConnection(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.SetState(wsmodel.ConnectionStateClosed)
	}()

	for {
		var msg wsmodel.Message
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return
			}
			c.server.logger.Debug("read error", map[string]interface{}{
				"connection_id": c.ID,
				"error":         err.Error(),
			})
			return
		}
		c.LastPing = time.Now()

		if err := json.Unmarshal(data, &msg); err != nil {
			c.server.metrics.RecordError("invalid_message")
			c.sendError("", wsmodel.ErrCodeInvalidMessage, "malformed message", nil)
			continue
		}

		if !c.limiter.Allow() {
			c.server.metrics.RecordError("rate_limited")
			c.sendError(msg.ID, wsmodel.ErrCodeRateLimited, "rate limit exceeded", nil)
			continue
		}

		start := time.Now()
		result, err := c.server.processMessage(ctx, c, &msg)
		c.server.metrics.RecordMessage("received", msg.Method, time.Since(start))

		if err != nil {
			var wsErr *wsmodel.Error
			if errors.As(err, &wsErr) {
				c.sendError(msg.ID, wsErr.Code, wsErr.Message, wsErr.Data)
			} else {
				c.sendError(msg.ID, wsmodel.ErrCodeServerError, err.Error(), nil)
			}
			continue
		}
		c.sendResult(msg.ID, result)
	}
}

// writePump is the connection's single socket writer. It drains the send
// queue and keeps the connection alive with pings.
func (c *Connection) writePump(ctx context.Context) {
	var pings <-chan time.Time
	if c.server.config.PingInterval > 0 {
		ticker := time.NewTicker(c.server.config.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, c.server.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.server.logger.Debug("write error", map[string]interface{}{
					"connection_id": c.ID,
					"error":         err.Error(),
				})
				return
			}
			c.server.metrics.RecordMessage("sent", "", 0)
		case <-pings:
			pingCtx, cancel := context.WithTimeout(ctx, c.server.config.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) sendResult(requestID string, result interface{}) {
	data, err := json.Marshal(wsmodel.Message{
		ID:     requestID,
		Type:   wsmodel.MessageTypeResponse,
		Result: result,
	})
	if err != nil {
		c.server.logger.Error("marshal response", map[string]interface{}{
			"connection_id": c.ID,
			"error":         err.Error(),
		})
		return
	}
	c.enqueue(data)
}

func (c *Connection) sendError(requestID string, code int, message string, errData interface{}) {
	data, err := json.Marshal(wsmodel.Message{
		ID:    requestID,
		Type:  wsmodel.MessageTypeError,
		Error: wsmodel.NewError(code, message, errData),
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
