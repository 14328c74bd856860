package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cartoworks/cartoworks/pkg/common/cache"
	"github.com/cartoworks/cartoworks/pkg/observability"
)

const versionKeyPrefix = "map_version:"

// CacheVersionSink publishes version bumps to the shared cache so other
// services can detect staleness without talking to the engine.
type CacheVersionSink struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCacheVersionSink creates a sink writing map_version:<mapID> keys.
// A zero ttl keeps versions until overwritten.
func NewCacheVersionSink(c cache.Cache, ttl time.Duration) *CacheVersionSink {
	return &CacheVersionSink{cache: c, ttl: ttl}
}

// OnVersionChanged implements VersionSink.
func (s *CacheVersionSink) OnVersionChanged(ctx context.Context, mapID string, version int64) error {
	return s.cache.Set(ctx, versionKeyPrefix+mapID, version, s.ttl)
}

// BreakerVersionSink wraps another sink in a circuit breaker so a struggling
// document store cannot slow down every accepted operation.
type BreakerVersionSink struct {
	next    VersionSink
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerVersionSink wraps next with a circuit breaker. The breaker opens
// after five consecutive failures and probes again after 30 seconds.
func NewBreakerVersionSink(next VersionSink, logger observability.Logger) *BreakerVersionSink {
	settings := gobreaker.Settings{
		Name:    "version-sink",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("version sink breaker state changed", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			}
		},
	}
	return &BreakerVersionSink{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// OnVersionChanged implements VersionSink.
func (s *BreakerVersionSink) OnVersionChanged(ctx context.Context, mapID string, version int64) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.OnVersionChanged(ctx, mapID, version)
	})
	if err != nil {
		return fmt.Errorf("version sink for map %s: %w", mapID, err)
	}
	return nil
}
