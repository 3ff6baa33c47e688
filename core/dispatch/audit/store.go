// Package audit persists the history of collection dispatch decisions.
package audit

import (
	"context"
	"time"
)

// Action names a collection request transition.
type Action string

const (
	ActionAssigned  Action = "assigned"
	ActionStarted   Action = "started"
	ActionCollected Action = "collected"
)

// Record captures one committed dispatch transition.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	RequestID string    `json:"request_id"`
	BucketID  string    `json:"bucket_id"`
	DriverID  string    `json:"driver_id"`
	Fill      float64   `json:"fill"`
	Attempts  int       `json:"attempts,omitempty"`
}

// Query filters records. Zero fields match anything.
type Query struct {
	Start     time.Time
	End       time.Time
	RequestID string
	BucketID  string
	DriverID  string
	Action    Action
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	switch {
	case !q.Start.IsZero() && r.Timestamp.Before(q.Start):
		return false
	case !q.End.IsZero() && r.Timestamp.After(q.End):
		return false
	case q.RequestID != "" && r.RequestID != q.RequestID:
		return false
	case q.BucketID != "" && r.BucketID != q.BucketID:
		return false
	case q.DriverID != "" && r.DriverID != q.DriverID:
		return false
	case q.Action != "" && r.Action != q.Action:
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
