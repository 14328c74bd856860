package collab

import (
	"context"
	"encoding/json"

	"github.com/cartoworks/cartoworks/pkg/models"
)

// Offset applied per overlapping concurrent operation, in degrees. Roughly
// ten meters at the equator; enough to keep simultaneously placed markers
// from stacking exactly on top of each other.
const overlapOffset = 0.0001

// OffsetTransformer is the default transformation collaborator: a naive
// positional transform that nudges the coordinates of marker placements and
// object moves once per overlapping concurrent operation of the same type.
// Operations without coordinates pass through unchanged. Real conflict
// resolution (OT, CRDT merge) plugs in by replacing this implementation.
type OffsetTransformer struct{}

// NewOffsetTransformer creates the default transformer.
func NewOffsetTransformer() *OffsetTransformer {
	return &OffsetTransformer{}
}

// Transform implements Transformer.
func (t *OffsetTransformer) Transform(ctx context.Context, op models.MapOperation, concurrent []models.MapOperation) (models.MapOperation, error) {
	if op.Type != "addMarker" && op.Type != "moveObject" {
		return op, nil
	}

	overlaps := 0
	for _, c := range concurrent {
		if c.Type == op.Type {
			overlaps++
		}
	}
	if overlaps == 0 || len(op.Payload) == 0 {
		return op, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return op, nil
	}
	lat, latOK := payload["lat"].(float64)
	lng, lngOK := payload["lng"].(float64)
	if !latOK || !lngOK {
		return op, nil
	}

	payload["lat"] = lat + overlapOffset*float64(overlaps)
	payload["lng"] = lng + overlapOffset*float64(overlaps)

	adjusted, err := json.Marshal(payload)
	if err != nil {
		return models.MapOperation{}, err
	}
	op.Payload = adjusted
	return op, nil
}

// IdentityTransformer returns operations untouched. Useful in tests and for
// last-writer-wins deployments.
type IdentityTransformer struct{}

// Transform implements Transformer.
func (IdentityTransformer) Transform(ctx context.Context, op models.MapOperation, concurrent []models.MapOperation) (models.MapOperation, error) {
	return op, nil
}
