package collab

import (
	"sort"
	"sync"
	"time"

	"github.com/cartoworks/cartoworks/pkg/models"
)

// session holds everything associated with one map being edited: the
// participant set, the bounded operation history, the version counter, and
// the advisory lock table. All fields are guarded by mu; sessions of
// different maps are fully independent.
type session struct {
	mapID string

	mu           sync.Mutex
	closed       bool
	participants map[string]struct{}
	history      []models.MapOperation
	version      int64
	locks        map[string]models.LockInfo
}

func newSession(mapID string) *session {
	return &session{
		mapID:        mapID,
		participants: make(map[string]struct{}),
		locks:        make(map[string]models.LockInfo),
	}
}

// participantList returns the participants sorted for stable output.
// Callers must hold mu.
func (s *session) participantList() []string {
	users := make([]string, 0, len(s.participants))
	for id := range s.participants {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// othersOf returns every participant except the given connection.
// Callers must hold mu.
func (s *session) othersOf(connectionID string) []string {
	others := make([]string, 0, len(s.participants))
	for id := range s.participants {
		if id != connectionID {
			others = append(others, id)
		}
	}
	sort.Strings(others)
	return others
}

// copyHistory returns a snapshot of the retained history.
// Callers must hold mu.
func (s *session) copyHistory() []models.MapOperation {
	history := make([]models.MapOperation, len(s.history))
	copy(history, s.history)
	return history
}

// append adds an operation and drops the oldest entries beyond maxHistory.
// Arrival order is preserved. Callers must hold mu.
func (s *session) append(op models.MapOperation, maxHistory int) {
	s.history = append(s.history, op)
	if len(s.history) > maxHistory {
		excess := len(s.history) - maxHistory
		s.history = append(s.history[:0:0], s.history[excess:]...)
	}
}

// concurrentWindow selects the history entries whose timestamp falls within
// the trailing window of the given instant. This approximates "operations
// the author could not yet have seen"; it is timestamp-based, not causal.
// Callers must hold mu.
func (s *session) concurrentWindow(at time.Time, window time.Duration) []models.MapOperation {
	cutoff := at.Add(-window)
	var concurrent []models.MapOperation
	for _, op := range s.history {
		if op.Timestamp.After(cutoff) {
			concurrent = append(concurrent, op)
		}
	}
	return concurrent
}
