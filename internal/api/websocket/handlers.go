package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cartoworks/cartoworks/internal/collab"
	"github.com/cartoworks/cartoworks/pkg/models"
	wsmodel "github.com/cartoworks/cartoworks/pkg/models/websocket"
)

// MessageHandler processes one request and returns its result.
type MessageHandler func(ctx context.Context, c *Connection, params json.RawMessage) (interface{}, error)

func (s *Server) registerHandlers() {
	s.handlers = map[string]MessageHandler{
		"map.join":   s.handleJoin,
		"map.update": s.handleUpdate,
		"map.undo":   s.handleUndo,
		"map.lock":   s.handleLock,
		"map.unlock": s.handleUnlock,
		"map.cursor": s.handleCursor,
	}
}

func (s *Server) processMessage(ctx context.Context, c *Connection, msg *wsmodel.Message) (interface{}, error) {
	handler, ok := s.handlers[msg.Method]
	if !ok {
		s.metrics.RecordError("method_not_found")
		return nil, wsmodel.NewError(wsmodel.ErrCodeMethodNotFound, "unknown method: "+msg.Method, nil)
	}
	return handler(ctx, c, msg.Params)
}

// currentMap resolves the caller's session; every method except map.join
// requires one.
func (s *Server) currentMap(c *Connection) (string, error) {
	mapID, ok := s.engine.Resolve(c.ID)
	if !ok {
		return "", wsmodel.NewError(wsmodel.ErrCodeNotJoined, "join a map first", nil)
	}
	return mapID, nil
}

type joinParams struct {
	MapID string `json:"map_id"`
}

func (s *Server) handleJoin(ctx context.Context, c *Connection, params json.RawMessage) (interface{}, error) {
	var p joinParams
	if err := json.Unmarshal(params, &p); err != nil || p.MapID == "" {
		return nil, wsmodel.NewError(wsmodel.ErrCodeInvalidParams, "map_id is required", nil)
	}
	snapshot, err := s.engine.Join(ctx, c.ID, p.MapID)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

type updateParams struct {
	Operation models.MapOperation `json:"operation"`
}

func (s *Server) handleUpdate(ctx context.Context, c *Connection, params json.RawMessage) (interface{}, error) {
	mapID, err := s.currentMap(c)
	if err != nil {
		return nil, err
	}
	var p updateParams
	if err := json.Unmarshal(params, &p); err != nil || p.Operation.Type == "" {
		return nil, wsmodel.NewError(wsmodel.ErrCodeInvalidParams, "operation with a type is required", nil)
	}

	accepted, rejection, err := s.engine.Submit(ctx, c.ID, mapID, p.Operation)
	if err != nil {
		if errors.Is(err, collab.ErrNoSession) {
			return nil, wsmodel.NewError(wsmodel.ErrCodeNotJoined, "join a map first", nil)
		}
		s.metrics.RecordError("transform_failed")
		return nil, wsmodel.NewError(wsmodel.ErrCodeTransformFailed, err.Error(), nil)
	}
	if rejection != nil {
		return nil, wsmodel.NewError(wsmodel.ErrCodeRejected, rejection.Reason, nil)
	}
	return map[string]interface{}{
		"operation": accepted,
		"version":   s.engine.Version(mapID),
	}, nil
}

func (s *Server) handleUndo(ctx context.Context, c *Connection, params json.RawMessage) (interface{}, error) {
	mapID, err := s.currentMap(c)
	if err != nil {
		return nil, err
	}
	undone, err := s.engine.Undo(ctx, c.ID, mapID)
	if err != nil {
		return nil, err
	}
	// A nil operation means there was nothing to undo.
	return map[string]interface{}{"operation": undone}, nil
}

type lockParams struct {
	ObjectID string `json:"object_id"`
}

func (s *Server) handleLock(ctx context.Context, c *Connection, params json.RawMessage) (interface{}, error) {
	mapID, err := s.currentMap(c)
	if err != nil {
		return nil, err
	}
	var p lockParams
	if err := json.Unmarshal(params, &p); err != nil || p.ObjectID == "" {
		return nil, wsmodel.NewError(wsmodel.ErrCodeInvalidParams, "object_id is required", nil)
	}
	acquired, err := s.engine.Lock(ctx, c.ID, mapID, p.ObjectID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"acquired": acquired}, nil
}

func (s *Server) handleUnlock(ctx context.Context, c *Connection, params json.RawMessage) (interface{}, error) {
	mapID, err := s.currentMap(c)
	if err != nil {
		return nil, err
	}
	var p lockParams
	if err := json.Unmarshal(params, &p); err != nil || p.ObjectID == "" {
		return nil, wsmodel.NewError(wsmodel.ErrCodeInvalidParams, "object_id is required", nil)
	}
	released, err := s.engine.Unlock(ctx, c.ID, mapID, p.ObjectID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"released": released}, nil
}

type cursorParams struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (s *Server) handleCursor(ctx context.Context, c *Connection, params json.RawMessage) (interface{}, error) {
	mapID, err := s.currentMap(c)
	if err != nil {
		return nil, err
	}
	var p cursorParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, wsmodel.NewError(wsmodel.ErrCodeInvalidParams, "lat and lng are required", nil)
	}
	if err := s.engine.Cursor(ctx, c.ID, mapID, p.Lat, p.Lng); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}
