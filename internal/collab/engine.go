// Package collab implements the real-time collaboration engine behind the
// map editing endpoints: per-map sessions with bounded operation history and
// monotonic versioning, the submit pipeline with pluggable validation and
// transformation, advisory object locks, undo, and presence fan-out.
package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cartoworks/cartoworks/pkg/models"
	"github.com/cartoworks/cartoworks/pkg/observability"
)

// Broadcast method names emitted through the EventSink.
const (
	EventUserJoined     = "map.user_joined"
	EventUserLeft       = "map.user_left"
	EventUpdated        = "map.updated"
	EventObjectLocked   = "map.object_locked"
	EventObjectUnlocked = "map.object_unlocked"
	EventCursorMoved    = "map.cursor_moved"
)

// ErrNoSession is returned for operations against a map nobody has joined.
var ErrNoSession = errors.New("no active session for map")

// Validator decides whether an operation may enter a map's history. The
// semantic rules live outside the engine; a failed validation is a normal
// outcome reported to the submitter only.
type Validator interface {
	Validate(ctx context.Context, op models.MapOperation, mapID string) (ok bool, reason string)
}

// Transformer reconciles an operation against the concurrent operations in
// its window. The engine guarantees exactly one call per accepted submission
// and never appends when the call fails.
type Transformer interface {
	Transform(ctx context.Context, op models.MapOperation, concurrent []models.MapOperation) (models.MapOperation, error)
}

// VersionSink is notified after every accepted operation so the authoritative
// document store can persist or react to version bumps.
type VersionSink interface {
	OnVersionChanged(ctx context.Context, mapID string, version int64) error
}

// EventSink delivers a notification to a set of connections. The transport
// layer implements it; the engine computes the recipients.
type EventSink interface {
	Notify(connectionIDs []string, method string, params interface{})
}

// Config holds the engine tunables.
type Config struct {
	// MaxHistory bounds each session's retained history; oldest entries are
	// dropped first when exceeded.
	MaxHistory int `mapstructure:"max_history"`
	// Window is the trailing interval of history considered concurrent with
	// an incoming operation, by the operation's own timestamp.
	Window time.Duration `mapstructure:"window"`
	// LockTTL expires unreleased object locks. Zero disables expiry.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// ReleaseLocksOnDisconnect releases a connection's locks when it leaves
	// its session. Off preserves the legacy leak-prone behavior.
	ReleaseLocksOnDisconnect bool `mapstructure:"release_locks_on_disconnect"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistory:               1000,
		Window:                   5 * time.Second,
		LockTTL:                  30 * time.Second,
		ReleaseLocksOnDisconnect: true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 1000
	}
	if c.Window <= 0 {
		c.Window = 5 * time.Second
	}
	return c
}

// Engine owns the per-map session state. It is safe for concurrent use;
// sessions of different maps never contend with each other.
type Engine struct {
	config   Config
	registry *connectionRegistry
	sessions sync.Map // map ID -> *session

	validator   Validator
	transformer Transformer
	versionSink VersionSink
	sink        EventSink

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewEngine creates an engine. Collaborators may be nil: a nil validator
// accepts everything, a nil transformer is the identity, a nil version sink
// and a nil event sink are skipped.
func NewEngine(config Config, sink EventSink, logger observability.Logger, metrics observability.MetricsClient) *Engine {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Engine{
		config:   config.withDefaults(),
		registry: newConnectionRegistry(),
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
	}
}

// SetValidator installs the validation collaborator.
func (e *Engine) SetValidator(v Validator) { e.validator = v }

// SetTransformer installs the transformation collaborator.
func (e *Engine) SetTransformer(t Transformer) { e.transformer = t }

// SetVersionSink installs the version change collaborator.
func (e *Engine) SetVersionSink(s VersionSink) { e.versionSink = s }

// Resolve returns the map a connection currently belongs to.
func (e *Engine) Resolve(connectionID string) (string, bool) {
	return e.registry.resolve(connectionID)
}

// Stats reports the number of active map sessions and connected participants.
func (e *Engine) Stats() (maps int, users int) {
	e.sessions.Range(func(_, value interface{}) bool {
		s := value.(*session)
		s.mu.Lock()
		if !s.closed {
			maps++
			users += len(s.participants)
		}
		s.mu.Unlock()
		return true
	})
	return maps, users
}

// History returns a copy of a map's retained history. An empty slice for an
// unknown map: a torn-down session retains nothing.
func (e *Engine) History(mapID string) []models.MapOperation {
	s, ok := e.getSession(mapID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.copyHistory()
}

// Version returns a map's current version, zero for an unknown map.
func (e *Engine) Version(mapID string) int64 {
	s, ok := e.getSession(mapID)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.version
}

// ensureSession returns the live session for a map, creating it on first
// reference. A session marked closed is replaced; callers always get a
// session that is still in the registry.
func (e *Engine) ensureSession(mapID string) *session {
	for {
		value, _ := e.sessions.LoadOrStore(mapID, newSession(mapID))
		s := value.(*session)
		s.mu.Lock()
		if !s.closed {
			s.mu.Unlock()
			return s
		}
		s.mu.Unlock()
		e.sessions.CompareAndDelete(mapID, value)
	}
}

func (e *Engine) getSession(mapID string) (*session, bool) {
	value, ok := e.sessions.Load(mapID)
	if !ok {
		return nil, false
	}
	return value.(*session), true
}

// notify fans out an event, skipping a nil sink and empty recipient sets.
func (e *Engine) notify(recipients []string, method string, params interface{}) {
	if e.sink == nil || len(recipients) == 0 {
		return
	}
	e.sink.Notify(recipients, method, params)
	e.metrics.IncrementCounterWithLabels("collab_broadcasts_total", 1, map[string]string{"event": method})
}
