package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePredicates(t *testing.T) {
	req := &Message{Type: MessageTypeRequest, Method: "map.join"}
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsNotification())

	notif := &Message{Type: MessageTypeNotification, Method: "map.updated"}
	assert.True(t, notif.IsNotification())
	assert.False(t, notif.IsRequest())
}

func TestErrorOmittedWhenNil(t *testing.T) {
	data, err := json.Marshal(&Message{ID: "1", Type: MessageTypeResponse, Result: "ok"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "error")

	data, err = json.Marshal(&Message{
		ID:    "2",
		Type:  MessageTypeError,
		Error: NewError(ErrCodeRejected, "operation rejected", nil),
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"code":4102`)
}

func TestConnectionState(t *testing.T) {
	conn := &Connection{ID: "c1"}
	assert.Equal(t, ConnectionStateClosed, conn.GetState())
	assert.False(t, conn.IsActive())

	conn.SetState(ConnectionStateConnecting)
	assert.True(t, conn.IsActive())

	conn.SetState(ConnectionStateConnected)
	assert.True(t, conn.IsActive())

	conn.SetState(ConnectionStateClosing)
	assert.False(t, conn.IsActive())
}
