package collab

import "sync"

// connectionRegistry maps a connection to the map session it belongs to.
// A connection belongs to at most one map at a time.
type connectionRegistry struct {
	mu     sync.RWMutex
	byConn map[string]string
}

func newConnectionRegistry() *connectionRegistry {
	return &connectionRegistry{byConn: make(map[string]string)}
}

// bind records the connection's current map, replacing any previous binding.
func (r *connectionRegistry) bind(connectionID, mapID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[connectionID] = mapID
}

// unbind removes the connection's binding, returning the map it was bound to.
func (r *connectionRegistry) unbind(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mapID, ok := r.byConn[connectionID]
	if ok {
		delete(r.byConn, connectionID)
	}
	return mapID, ok
}

// resolve returns the map the connection is currently bound to.
func (r *connectionRegistry) resolve(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mapID, ok := r.byConn[connectionID]
	return mapID, ok
}
