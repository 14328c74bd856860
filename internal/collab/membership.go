package collab

import (
	"context"

	"github.com/cartoworks/cartoworks/pkg/models"
)

// Join adds a connection to a map's session and returns the snapshot the
// joiner needs to reconstruct state: the full participant set, the retained
// history, and the current version. If the connection is already in a
// session, including this very map, that membership is torn down first;
// rejoins are deliberately treated as fresh joins.
func (e *Engine) Join(ctx context.Context, connectionID, mapID string) (*models.SessionSnapshot, error) {
	e.leaveCurrent(ctx, connectionID)

	var s *session
	for {
		s = e.ensureSession(mapID)
		s.mu.Lock()
		if !s.closed {
			break
		}
		s.mu.Unlock()
	}

	s.participants[connectionID] = struct{}{}
	e.registry.bind(connectionID, mapID)

	snapshot := &models.SessionSnapshot{
		MapID:   mapID,
		Users:   s.participantList(),
		History: s.copyHistory(),
		Version: s.version,
	}
	others := s.othersOf(connectionID)
	s.mu.Unlock()

	e.notify(others, EventUserJoined, map[string]interface{}{
		"map_id":        mapID,
		"connection_id": connectionID,
	})

	e.metrics.IncrementCounter("collab_joins_total", 1)
	e.logger.Info("participant joined", map[string]interface{}{
		"map_id":        mapID,
		"connection_id": connectionID,
		"participants":  len(snapshot.Users),
	})
	return snapshot, nil
}

// Disconnect is the sole cancellation signal for a connection: it removes
// the registry mapping and session membership, tears the session down when
// it empties, and notifies the remaining participants. It returns the map
// the connection was in, if any.
func (e *Engine) Disconnect(ctx context.Context, connectionID string) (string, bool) {
	return e.leaveCurrent(ctx, connectionID)
}

// leaveCurrent removes a connection from whatever session it is in. The
// registry mapping is removed unconditionally before any fan-out, so a
// failure to notify can never leak membership state.
func (e *Engine) leaveCurrent(ctx context.Context, connectionID string) (string, bool) {
	mapID, ok := e.registry.unbind(connectionID)
	if !ok {
		return "", false
	}
	s, ok := e.getSession(mapID)
	if !ok {
		return mapID, true
	}

	s.mu.Lock()
	delete(s.participants, connectionID)

	var released []string
	if e.config.ReleaseLocksOnDisconnect {
		for objectID, lock := range s.locks {
			if lock.Owner == connectionID {
				delete(s.locks, objectID)
				released = append(released, objectID)
			}
		}
	}

	empty := len(s.participants) == 0
	if empty {
		s.closed = true
	}
	remaining := s.participantList()
	s.mu.Unlock()

	if empty {
		e.sessions.CompareAndDelete(mapID, s)
		e.logger.Info("session torn down", map[string]interface{}{"map_id": mapID})
		e.metrics.IncrementCounter("collab_sessions_torn_down_total", 1)
	}

	for _, objectID := range released {
		e.notify(remaining, EventObjectUnlocked, map[string]interface{}{
			"map_id":      mapID,
			"object_id":   objectID,
			"released_by": connectionID,
		})
	}
	e.notify(remaining, EventUserLeft, map[string]interface{}{
		"map_id":        mapID,
		"connection_id": connectionID,
	})

	e.logger.Info("participant left", map[string]interface{}{
		"map_id":         mapID,
		"connection_id":  connectionID,
		"released_locks": len(released),
	})
	return mapID, true
}

// Cursor relays a presence cursor position to every participant except the
// sender. Nothing is stored.
func (e *Engine) Cursor(ctx context.Context, connectionID, mapID string, lat, lng float64) error {
	s, ok := e.getSession(mapID)
	if !ok {
		return ErrNoSession
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNoSession
	}
	others := s.othersOf(connectionID)
	s.mu.Unlock()

	e.notify(others, EventCursorMoved, models.CursorPosition{
		ConnectionID: connectionID,
		Lat:          lat,
		Lng:          lng,
	})
	return nil
}
