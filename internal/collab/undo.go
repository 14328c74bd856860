package collab

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cartoworks/cartoworks/pkg/models"
)

// Undo reverts the caller's most recent non-reverted operation. The original
// entry stays in history with its reverted flag set; a compensating
// operation tagged "undo_<type>" carrying the original payload is appended
// and broadcast. The compensating entry bypasses transformation and does not
// bump the version; inverting the payload is the clients' concern.
//
// A nil result with a nil error means there was nothing to undo.
func (e *Engine) Undo(ctx context.Context, connectionID, mapID string) (*models.MapOperation, error) {
	s, ok := e.getSession(mapID)
	if !ok {
		return nil, ErrNoSession
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNoSession
	}

	target := -1
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Author == connectionID && !s.history[i].Reverted {
			target = i
			break
		}
	}
	if target < 0 {
		s.mu.Unlock()
		e.metrics.IncrementCounterWithLabels("collab_undo_total", 1, map[string]string{"outcome": "nothing"})
		return nil, nil
	}

	s.history[target].Reverted = true
	original := s.history[target]

	undoOp := models.MapOperation{
		ID:        uuid.New().String(),
		Type:      models.UndoTypePrefix + original.Type,
		Payload:   original.Payload,
		Author:    connectionID,
		Timestamp: time.Now(),
	}
	s.append(undoOp, e.config.MaxHistory)
	version := s.version
	recipients := s.participantList()
	s.mu.Unlock()

	e.notify(recipients, EventUpdated, map[string]interface{}{
		"map_id":    mapID,
		"operation": undoOp,
		"version":   version,
	})

	e.metrics.IncrementCounterWithLabels("collab_undo_total", 1, map[string]string{"outcome": "undone"})
	e.logger.Debug("operation undone", map[string]interface{}{
		"map_id":      mapID,
		"author":      connectionID,
		"original_id": original.ID,
		"undo_id":     undoOp.ID,
	})
	return &undoOp, nil
}
