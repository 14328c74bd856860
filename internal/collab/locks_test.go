package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusiveAndNonReentrant(t *testing.T) {
	engine, sink := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)
	sink.reset()

	acquired, err := engine.Lock(ctx, "c1", "m1", "marker-7")
	require.NoError(t, err)
	assert.True(t, acquired)

	// A held lock fails further attempts, the owner's own included.
	acquired, err = engine.Lock(ctx, "c2", "m1", "marker-7")
	require.NoError(t, err)
	assert.False(t, acquired)
	acquired, err = engine.Lock(ctx, "c1", "m1", "marker-7")
	require.NoError(t, err)
	assert.False(t, acquired)

	owner, held := engine.LockOwner("m1", "marker-7")
	require.True(t, held)
	assert.Equal(t, "c1", owner)

	// Only the successful acquire was broadcast, to the full group.
	locked := sink.byMethod(EventObjectLocked)
	require.Len(t, locked, 1)
	assert.Equal(t, []string{"c1", "c2"}, locked[0].Recipients)

	// A different object is independent.
	acquired, err = engine.Lock(ctx, "c2", "m1", "marker-8")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestUnlockIsUnconditional(t *testing.T) {
	engine, sink := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)

	acquired, err := engine.Lock(ctx, "c1", "m1", "marker-7")
	require.NoError(t, err)
	require.True(t, acquired)
	sink.reset()

	// Anyone may release; ownership is advisory.
	held, err := engine.Unlock(ctx, "c2", "m1", "marker-7")
	require.NoError(t, err)
	assert.True(t, held)

	_, stillHeld := engine.LockOwner("m1", "marker-7")
	assert.False(t, stillHeld)

	// Releasing a free object reports no lock but still broadcasts.
	held, err = engine.Unlock(ctx, "c1", "m1", "marker-7")
	require.NoError(t, err)
	assert.False(t, held)

	unlocked := sink.byMethod(EventObjectUnlocked)
	require.Len(t, unlocked, 2)
	assert.Equal(t, []string{"c1", "c2"}, unlocked[0].Recipients)
}

func TestLockExpiresAfterTTL(t *testing.T) {
	config := DefaultConfig()
	config.LockTTL = 20 * time.Millisecond
	engine, _ := newTestEngine(t, config)
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)

	acquired, err := engine.Lock(ctx, "c1", "m1", "marker-7")
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(40 * time.Millisecond)

	// Expiry is lazy: the next acquire simply wins.
	acquired, err = engine.Lock(ctx, "c2", "m1", "marker-7")
	require.NoError(t, err)
	assert.True(t, acquired)

	owner, held := engine.LockOwner("m1", "marker-7")
	require.True(t, held)
	assert.Equal(t, "c2", owner)
}

func TestLocksReleasedOnDisconnect(t *testing.T) {
	engine, sink := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)

	acquired, err := engine.Lock(ctx, "c1", "m1", "marker-7")
	require.NoError(t, err)
	require.True(t, acquired)
	sink.reset()

	engine.Disconnect(ctx, "c1")

	_, held := engine.LockOwner("m1", "marker-7")
	assert.False(t, held)

	unlocked := sink.byMethod(EventObjectUnlocked)
	require.Len(t, unlocked, 1)
	assert.Equal(t, []string{"c2"}, unlocked[0].Recipients)
}

func TestLocksRetainedOnDisconnectWhenDisabled(t *testing.T) {
	config := DefaultConfig()
	config.ReleaseLocksOnDisconnect = false
	engine, sink := newTestEngine(t, config)
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)

	acquired, err := engine.Lock(ctx, "c1", "m1", "marker-7")
	require.NoError(t, err)
	require.True(t, acquired)
	sink.reset()

	engine.Disconnect(ctx, "c1")

	// The departed connection's lock stays until explicitly released.
	owner, held := engine.LockOwner("m1", "marker-7")
	require.True(t, held)
	assert.Equal(t, "c1", owner)
	assert.Empty(t, sink.byMethod(EventObjectUnlocked))
}

func TestLockWithoutSession(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Lock(ctx, "c1", "nosuchmap", "marker-7")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = engine.Unlock(ctx, "c1", "nosuchmap", "marker-7")
	assert.ErrorIs(t, err, ErrNoSession)
}
