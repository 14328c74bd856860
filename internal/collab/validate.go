package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cartoworks/cartoworks/pkg/models"
)

// editEnvelope is the subset of an operation payload the default validator
// understands. Payloads are otherwise opaque; absent fields skip the
// corresponding check.
type editEnvelope struct {
	ObjectID string `json:"objectId"`
	Version  *int64 `json:"version"`
}

// LockAwareValidator is the default validation collaborator: it rejects
// edits against objects locked by another connection and edits based on a
// stale map version. Anything it cannot parse passes through untouched.
type LockAwareValidator struct {
	engine *Engine
}

// NewLockAwareValidator creates the default validator bound to an engine.
func NewLockAwareValidator(engine *Engine) *LockAwareValidator {
	return &LockAwareValidator{engine: engine}
}

// Validate implements Validator.
func (v *LockAwareValidator) Validate(ctx context.Context, op models.MapOperation, mapID string) (bool, string) {
	if len(op.Payload) == 0 {
		return true, ""
	}
	var envelope editEnvelope
	if err := json.Unmarshal(op.Payload, &envelope); err != nil {
		return true, ""
	}

	if envelope.ObjectID != "" {
		if owner, held := v.engine.LockOwner(mapID, envelope.ObjectID); held && owner != op.Author {
			return false, fmt.Sprintf("object is locked by user %s", owner)
		}
	}

	if envelope.Version != nil {
		if current := v.engine.Version(mapID); current > *envelope.Version {
			return false, "version conflict - please refresh your map"
		}
	}

	return true, ""
}

// AcceptAllValidator passes every operation, for deployments that do all
// validation client-side.
type AcceptAllValidator struct{}

// Validate implements Validator.
func (AcceptAllValidator) Validate(ctx context.Context, op models.MapOperation, mapID string) (bool, string) {
	return true, ""
}
