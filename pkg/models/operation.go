// Package models holds the shared domain types of the collaboration server.
package models

import (
	"encoding/json"
	"time"
)

// MapOperation is one edit submitted by a participant of a map session.
// The engine treats the payload as an opaque blob; its meaning belongs to
// the editing clients and the pluggable transformer.
type MapOperation struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Author    string          `json:"author"`
	Timestamp time.Time       `json:"timestamp"`
	Reverted  bool            `json:"reverted"`
}

// UndoTypePrefix tags compensating operations synthesized by the undo engine.
const UndoTypePrefix = "undo_"

// LockInfo describes an advisory object lock within a map session.
type LockInfo struct {
	MapID      string    `json:"map_id"`
	ObjectID   string    `json:"object_id"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Rejection is the non-error outcome of a failed validation. It is reported
// to the submitter only and never touches session state.
type Rejection struct {
	Reason string `json:"reason"`
}

// SessionSnapshot is what a joining participant receives: who is present,
// the retained history, and the current version.
type SessionSnapshot struct {
	MapID   string         `json:"map_id"`
	Users   []string       `json:"users"`
	History []MapOperation `json:"history"`
	Version int64          `json:"version"`
}

// CursorPosition is a transient presence signal; it is relayed, never stored.
type CursorPosition struct {
	ConnectionID string  `json:"connection_id"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
}
