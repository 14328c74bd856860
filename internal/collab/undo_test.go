package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoRevertsOwnLatestOperation(t *testing.T) {
	engine, sink := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)

	_, _, err = engine.Submit(ctx, "c1", "m1", testOp("addMarker", `{"lat":1.0,"lng":2.0}`))
	require.NoError(t, err)
	_, _, err = engine.Submit(ctx, "c2", "m1", testOp("addLayer", `{"name":"rivers"}`))
	require.NoError(t, err)
	sink.reset()

	versionBefore := engine.Version("m1")

	undone, err := engine.Undo(ctx, "c1", "m1")
	require.NoError(t, err)
	require.NotNil(t, undone)
	assert.Equal(t, "undo_addMarker", undone.Type)
	assert.Equal(t, "c1", undone.Author)
	assert.JSONEq(t, `{"lat":1.0,"lng":2.0}`, string(undone.Payload))

	// Undo does not bump the version.
	assert.Equal(t, versionBefore, engine.Version("m1"))

	history := engine.History("m1")
	require.Len(t, history, 3)
	assert.True(t, history[0].Reverted)   // c1's marker, now reverted
	assert.False(t, history[1].Reverted)  // c2's layer, untouched
	assert.False(t, history[2].Reverted)  // the compensating entry
	assert.Equal(t, "undo_addMarker", history[2].Type)

	// The compensating operation reaches everyone.
	updated := sink.byMethod(EventUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, []string{"c1", "c2"}, updated[0].Recipients)
}

func TestUndoSkipsOtherAuthorsAndRevertedEntries(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)

	_, _, err = engine.Submit(ctx, "c1", "m1", testOp("addMarker", `{"n":1}`))
	require.NoError(t, err)
	_, _, err = engine.Submit(ctx, "c1", "m1", testOp("addMarker", `{"n":2}`))
	require.NoError(t, err)
	_, _, err = engine.Submit(ctx, "c2", "m1", testOp("addMarker", `{"n":3}`))
	require.NoError(t, err)

	// First undo reverts c1's n=2, not c2's later n=3.
	undone, err := engine.Undo(ctx, "c1", "m1")
	require.NoError(t, err)
	require.NotNil(t, undone)
	assert.Equal(t, "undo_addMarker", undone.Type)
	assert.JSONEq(t, `{"n":2}`, string(undone.Payload))

	// c2's scan skips c1's compensating entry and reverts n=3.
	undone, err = engine.Undo(ctx, "c2", "m1")
	require.NoError(t, err)
	require.NotNil(t, undone)
	assert.JSONEq(t, `{"n":3}`, string(undone.Payload))

	// Compensating entries are regular history entries, so c1's next undo
	// reverts its own earlier undo rather than reaching back to n=1.
	undone, err = engine.Undo(ctx, "c1", "m1")
	require.NoError(t, err)
	require.NotNil(t, undone)
	assert.Equal(t, "undo_undo_addMarker", undone.Type)
	assert.JSONEq(t, `{"n":2}`, string(undone.Payload))
}

func TestUndoWithNothingAuthored(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)
	_, _, err = engine.Submit(ctx, "c1", "m1", testOp("addMarker", `{}`))
	require.NoError(t, err)

	// c2 authored nothing, so there is nothing to revert and no broadcast.
	undone, err := engine.Undo(ctx, "c2", "m1")
	require.NoError(t, err)
	assert.Nil(t, undone)
	require.Len(t, engine.History("m1"), 1)
}

func TestUndoWithEmptyHistory(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)

	undone, err := engine.Undo(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Nil(t, undone)

	_, err = engine.Undo(ctx, "c1", "nosuchmap")
	assert.ErrorIs(t, err, ErrNoSession)
}
