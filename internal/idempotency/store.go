// Package idempotency remembers the outcome of mutating requests by
// Idempotency-Key so a retried request replays the first response instead
// of executing twice.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a completed response is replayable.
const DefaultTTL = 24 * time.Hour

// InFlightTTL bounds how long an unfinished claim blocks duplicates. A
// crashed request frees its key after this.
const InFlightTTL = 30 * time.Second

// State of a stored key.
type State string

const (
	StateInFlight  State = "in_flight"
	StateCompleted State = "completed"
)

// ErrNotClaimed is returned by Complete when the key is no longer held.
var ErrNotClaimed = errors.New("idempotency key not claimed")

// Record is what a key maps to.
type Record struct {
	State       State     `json:"state"`
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"status_code,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store claims keys and keeps finished responses.
type Store interface {
	// Begin claims key for a new request. When claimed is false the
	// returned record is the existing claim or the completed response.
	Begin(ctx context.Context, key, fingerprint string) (rec *Record, claimed bool, err error)

	// Complete stores the response for a claimed key.
	Complete(ctx context.Context, key string, rec Record) error

	// Abandon frees a claimed key so the request can be retried.
	Abandon(ctx context.Context, key string) error
}
