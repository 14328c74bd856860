package collab

import (
	"context"
	"time"

	"github.com/cartoworks/cartoworks/pkg/models"
)

// Lock attempts to acquire the advisory lock on an object. It is a
// non-blocking, non-reentrant test-and-set: an existing lock, even the
// caller's own, fails the attempt with no side effect. On success every
// participant is told who holds the object.
func (e *Engine) Lock(ctx context.Context, connectionID, mapID, objectID string) (bool, error) {
	s, ok := e.getSession(mapID)
	if !ok {
		return false, ErrNoSession
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrNoSession
	}
	e.expireLockLocked(s, objectID)

	if _, held := s.locks[objectID]; held {
		s.mu.Unlock()
		e.metrics.IncrementCounterWithLabels("collab_lock_attempts_total", 1, map[string]string{"outcome": "contended"})
		return false, nil
	}

	s.locks[objectID] = models.LockInfo{
		MapID:      mapID,
		ObjectID:   objectID,
		Owner:      connectionID,
		AcquiredAt: time.Now(),
	}
	recipients := s.participantList()
	s.mu.Unlock()

	e.notify(recipients, EventObjectLocked, map[string]interface{}{
		"map_id":    mapID,
		"object_id": objectID,
		"owner":     connectionID,
	})
	e.metrics.IncrementCounterWithLabels("collab_lock_attempts_total", 1, map[string]string{"outcome": "acquired"})
	return true, nil
}

// Unlock releases an object lock unconditionally, regardless of who holds
// it; ownership is advisory end to end. Every participant is told the object
// is free, matching the legacy behavior of broadcasting even when no lock
// existed. The return value reports whether a lock was actually removed.
func (e *Engine) Unlock(ctx context.Context, connectionID, mapID, objectID string) (bool, error) {
	s, ok := e.getSession(mapID)
	if !ok {
		return false, ErrNoSession
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrNoSession
	}
	_, held := s.locks[objectID]
	delete(s.locks, objectID)
	recipients := s.participantList()
	s.mu.Unlock()

	e.notify(recipients, EventObjectUnlocked, map[string]interface{}{
		"map_id":      mapID,
		"object_id":   objectID,
		"released_by": connectionID,
	})
	return held, nil
}

// LockOwner reports the current holder of an object lock. The default
// validator uses it to reject edits against objects locked by someone else.
func (e *Engine) LockOwner(mapID, objectID string) (string, bool) {
	s, ok := e.getSession(mapID)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false
	}
	e.expireLockLocked(s, objectID)
	lock, held := s.locks[objectID]
	if !held {
		return "", false
	}
	return lock.Owner, true
}

// expireLockLocked drops the object's lock when it outlived the configured
// TTL. Expiry is lazy: nothing is broadcast, the next acquire simply wins.
// Callers must hold s.mu.
func (e *Engine) expireLockLocked(s *session, objectID string) {
	if e.config.LockTTL <= 0 {
		return
	}
	lock, held := s.locks[objectID]
	if held && time.Since(lock.AcquiredAt) > e.config.LockTTL {
		delete(s.locks, objectID)
	}
}
