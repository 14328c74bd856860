package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cartoworks/cartoworks/pkg/models"
	"github.com/cartoworks/cartoworks/pkg/observability"
)

// Submit runs an operation through the pipeline: validate, select the
// concurrency window, transform, append, trim, bump the version. Exactly one
// of the three results is set: the accepted operation, a rejection, or an
// error. A rejection changes no state and is reported to the submitter only.
// A transform error is a hard failure for this call; history is appended only
// after the transform completed, so a failed call never corrupts it.
func (e *Engine) Submit(ctx context.Context, connectionID, mapID string, op models.MapOperation) (*models.MapOperation, *models.Rejection, error) {
	ctx, span := observability.StartSpan(ctx, "collab.submit",
		trace.WithAttributes(attribute.String("map_id", mapID), attribute.String("op_type", op.Type)))
	defer span.End()

	start := time.Now()
	op.Author = connectionID
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	op.Reverted = false

	if e.validator != nil {
		ok, reason := e.validator.Validate(ctx, op, mapID)
		if !ok {
			e.metrics.IncrementCounterWithLabels("collab_operations_total", 1, map[string]string{"outcome": "rejected"})
			e.logger.Debug("operation rejected", map[string]interface{}{
				"map_id":  mapID,
				"author":  connectionID,
				"op_type": op.Type,
				"reason":  reason,
			})
			return nil, &models.Rejection{Reason: reason}, nil
		}
	}

	s, ok := e.getSession(mapID)
	if !ok {
		return nil, nil, ErrNoSession
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrNoSession
	}

	// The session stays locked across transform and append so the window the
	// transformer saw is exactly the history the operation lands on, and so
	// append and version increment are atomic per map.
	transformed := op
	if e.transformer != nil {
		concurrent := s.concurrentWindow(op.Timestamp, e.config.Window)
		var err error
		transformed, err = e.transformer.Transform(ctx, op, concurrent)
		if err != nil {
			s.mu.Unlock()
			span.RecordError(err)
			e.metrics.IncrementCounterWithLabels("collab_operations_total", 1, map[string]string{"outcome": "transform_error"})
			return nil, nil, fmt.Errorf("transform operation %s: %w", op.ID, err)
		}
	}

	s.append(transformed, e.config.MaxHistory)
	s.version++
	version := s.version
	recipients := s.participantList()
	s.mu.Unlock()

	if e.versionSink != nil {
		if err := e.versionSink.OnVersionChanged(ctx, mapID, version); err != nil {
			// The sink is a reactive hook; its failure must not undo an
			// already-accepted operation.
			e.logger.Warn("version sink failed", map[string]interface{}{
				"map_id":  mapID,
				"version": version,
				"error":   err.Error(),
			})
		}
	}

	e.notify(recipients, EventUpdated, map[string]interface{}{
		"map_id":    mapID,
		"operation": transformed,
		"version":   version,
	})

	e.metrics.IncrementCounterWithLabels("collab_operations_total", 1, map[string]string{"outcome": "accepted"})
	e.metrics.RecordTimer("collab_submit_duration", time.Since(start), nil)
	return &transformed, nil, nil
}
