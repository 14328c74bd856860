package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartoworks/cartoworks/pkg/models"
)

type rejectingValidator struct{ reason string }

func (v rejectingValidator) Validate(ctx context.Context, op models.MapOperation, mapID string) (bool, string) {
	return false, v.reason
}

// capturingTransformer records the concurrency window it was handed.
type capturingTransformer struct {
	windows [][]models.MapOperation
	err     error
}

func (t *capturingTransformer) Transform(ctx context.Context, op models.MapOperation, concurrent []models.MapOperation) (models.MapOperation, error) {
	window := make([]models.MapOperation, len(concurrent))
	copy(window, concurrent)
	t.windows = append(t.windows, window)
	return op, t.err
}

func TestSubmitAcceptsAndBumpsVersion(t *testing.T) {
	engine, sink := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	_, err = engine.Join(ctx, "c2", "m1")
	require.NoError(t, err)
	sink.reset()

	for i := 1; i <= 3; i++ {
		accepted, rej, err := engine.Submit(ctx, "c1", "m1", testOp("addLayer", `{"name":"roads"}`))
		require.NoError(t, err)
		require.Nil(t, rej)
		require.NotNil(t, accepted)
		assert.Equal(t, "c1", accepted.Author)
		assert.NotEmpty(t, accepted.ID)
		assert.False(t, accepted.Reverted)
		assert.Equal(t, int64(i), engine.Version("m1"))
	}

	// Accepted operations reach everyone, including the submitter.
	updated := sink.byMethod(EventUpdated)
	require.Len(t, updated, 3)
	for _, ev := range updated {
		assert.Equal(t, []string{"c1", "c2"}, ev.Recipients)
	}
	params := updated[2].Params.(map[string]interface{})
	assert.Equal(t, int64(3), params["version"])
}

func TestSubmitRejectionChangesNothing(t *testing.T) {
	engine, sink := newTestEngine(t, DefaultConfig())
	engine.SetValidator(rejectingValidator{reason: "no edit permission"})
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	sink.reset()

	accepted, rej, err := engine.Submit(ctx, "c1", "m1", testOp("addMarker", `{}`))
	require.NoError(t, err)
	assert.Nil(t, accepted)
	require.NotNil(t, rej)
	assert.Equal(t, "no edit permission", rej.Reason)

	assert.Zero(t, engine.Version("m1"))
	assert.Empty(t, engine.History("m1"))
	assert.Empty(t, sink.byMethod(EventUpdated))
}

func TestSubmitTransformError(t *testing.T) {
	engine, sink := newTestEngine(t, DefaultConfig())
	transformErr := errors.New("divergent state")
	engine.SetTransformer(&capturingTransformer{err: transformErr})
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)
	sink.reset()

	accepted, rej, err := engine.Submit(ctx, "c1", "m1", testOp("moveObject", `{}`))
	assert.Nil(t, accepted)
	assert.Nil(t, rej)
	require.ErrorIs(t, err, transformErr)

	// A failed transform must leave the session untouched.
	assert.Zero(t, engine.Version("m1"))
	assert.Empty(t, engine.History("m1"))
	assert.Empty(t, sink.byMethod(EventUpdated))
}

func TestSubmitWithoutSession(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())

	_, _, err := engine.Submit(context.Background(), "c1", "nosuchmap", testOp("addMarker", `{}`))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestConcurrencyWindowSelection(t *testing.T) {
	config := DefaultConfig()
	config.Window = 5 * time.Second
	engine, _ := newTestEngine(t, config)
	transformer := &capturingTransformer{}
	engine.SetTransformer(transformer)
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)

	now := time.Now()
	old := models.MapOperation{Type: "addMarker", Payload: json.RawMessage(`{}`), Timestamp: now.Add(-time.Minute)}
	recent := models.MapOperation{Type: "addMarker", Payload: json.RawMessage(`{}`), Timestamp: now.Add(-time.Second)}
	incoming := models.MapOperation{Type: "addMarker", Payload: json.RawMessage(`{}`), Timestamp: now}

	_, _, err = engine.Submit(ctx, "c1", "m1", old)
	require.NoError(t, err)
	_, _, err = engine.Submit(ctx, "c1", "m1", recent)
	require.NoError(t, err)
	_, _, err = engine.Submit(ctx, "c1", "m1", incoming)
	require.NoError(t, err)

	require.Len(t, transformer.windows, 3)
	// Only the one-second-old entry falls inside the window of the last
	// submit; the minute-old entry is outside it.
	lastWindow := transformer.windows[2]
	require.Len(t, lastWindow, 1)
	assert.Equal(t, recent.Timestamp.Unix(), lastWindow[0].Timestamp.Unix())
}

func TestHistoryBound(t *testing.T) {
	config := DefaultConfig()
	config.MaxHistory = 10
	engine, _ := newTestEngine(t, config)
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		_, _, err := engine.Submit(ctx, "c1", "m1", testOp("addMarker", fmt.Sprintf(`{"seq":%d}`, i)))
		require.NoError(t, err)
	}

	history := engine.History("m1")
	require.Len(t, history, 10)
	// Oldest entries were evicted; the version keeps counting.
	assert.JSONEq(t, `{"seq":15}`, string(history[0].Payload))
	assert.JSONEq(t, `{"seq":24}`, string(history[9].Payload))
	assert.Equal(t, int64(25), engine.Version("m1"))
}

type failingSink struct{ calls int }

func (s *failingSink) OnVersionChanged(ctx context.Context, mapID string, version int64) error {
	s.calls++
	return errors.New("store unavailable")
}

func TestVersionSinkFailureDoesNotFailSubmit(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	sink := &failingSink{}
	engine.SetVersionSink(sink)
	ctx := context.Background()

	_, err := engine.Join(ctx, "c1", "m1")
	require.NoError(t, err)

	accepted, rej, err := engine.Submit(ctx, "c1", "m1", testOp("addLayer", `{}`))
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, accepted)
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, int64(1), engine.Version("m1"))
}
