// Package uuidgen generates the identifiers used for query traces and
// events.
package uuidgen

import "github.com/google/uuid"

// New returns a new random (v4) identifier string.
func New() string {
	return uuid.New().String()
}

// NewTraceID returns an identifier for a QueryTrace.
func NewTraceID() string {
	return "trace_" + New()
}

// NewEventID returns an identifier for an Event.
func NewEventID() string {
	return "evt_" + New()
}
