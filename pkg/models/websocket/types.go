// Package websocket defines the wire message model shared by the server
// and its clients.
package websocket

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// MessageType represents WebSocket message types
type MessageType uint8

const (
	MessageTypeRequest MessageType = iota
	MessageTypeResponse
	MessageTypeNotification
	MessageTypeError
)

// Message represents a WebSocket message
type Message struct {
	ID     string          `json:"id,omitempty"`
	Type   MessageType     `json:"type"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result interface{}     `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error represents a WebSocket error
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes
const (
	ErrCodeInvalidMessage  = 4000
	ErrCodeRateLimited     = 4002
	ErrCodeServerError     = 4003
	ErrCodeMethodNotFound  = 4004
	ErrCodeInvalidParams   = 4005
	ErrCodeNotJoined       = 4100
	ErrCodeRejected        = 4102
	ErrCodeTransformFailed = 4103
)

// NewError creates a new WebSocket error
func NewError(code int, message string, data interface{}) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// IsRequest checks if the message is a request
func (m *Message) IsRequest() bool { return m.Type == MessageTypeRequest }

// IsNotification checks if the message is a notification
func (m *Message) IsNotification() bool { return m.Type == MessageTypeNotification }

// ConnectionState represents the state of a WebSocket connection
type ConnectionState int

const (
	ConnectionStateConnecting ConnectionState = iota
	ConnectionStateConnected
	ConnectionStateClosing
	ConnectionStateClosed
)

// Connection carries the transport-level metadata of one client channel.
// The connection ID doubles as the participant identity inside map sessions.
type Connection struct {
	ID        string
	UserLabel string
	RemoteIP  string
	State     atomic.Value // ConnectionState
	CreatedAt time.Time
	LastPing  time.Time
}

// GetState returns the current connection state
func (c *Connection) GetState() ConnectionState {
	if state := c.State.Load(); state != nil {
		return state.(ConnectionState)
	}
	return ConnectionStateClosed
}

// SetState sets the connection state
func (c *Connection) SetState(state ConnectionState) {
	c.State.Store(state)
}

// IsActive checks if the connection is active
func (c *Connection) IsActive() bool {
	state := c.GetState()
	return state == ConnectionStateConnected || state == ConnectionStateConnecting
}
