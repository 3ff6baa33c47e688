package metrics

import (
	"time"

	"github.com/kilianp07/wastefleet/core/model"
)

// BucketStateEvent is a snapshot of a bucket after a committed update.
type BucketStateEvent struct {
	Bucket    model.Bucket
	Status    string // fill band
	Context   string // "fill", "health", "trash", "collected"
	Component string
	Time      time.Time
}

// DispatchEvent records one Eligible -> Assigned transition.
type DispatchEvent struct {
	RequestID string
	BucketID  string
	DriverID  string
	Fill      float64
	Attempts  int
	Latency   time.Duration
	Time      time.Time
}

// CollectionEvent records the end of a collection cycle.
type CollectionEvent struct {
	RequestID  string
	BucketID   string
	DriverID   string
	Turnaround time.Duration // requested -> collected
	Time       time.Time
}

// MetricsSink records bucket lifecycle results for observability purposes.
type MetricsSink interface {
	RecordBucketState(ev BucketStateEvent) error
	RecordDispatch(ev DispatchEvent) error
}

// CollectionRecorder records completed collections.
type CollectionRecorder interface {
	RecordCollection(ev CollectionEvent) error
}

// TechnicianEvent records a technician request transition.
type TechnicianEvent struct {
	RequestID string
	BucketID  string
	Status    string
	Time      time.Time
}

// TechnicianRecorder records technician request transitions.
type TechnicianRecorder interface {
	RecordTechnician(ev TechnicianEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordBucketState(BucketStateEvent) error { return nil }
func (NopSink) RecordDispatch(DispatchEvent) error       { return nil }
func (NopSink) RecordCollection(CollectionEvent) error   { return nil }
func (NopSink) RecordTechnician(TechnicianEvent) error   { return nil }

// OrNop returns s, or NopSink when s is nil.
func OrNop(s MetricsSink) MetricsSink {
	if s == nil {
		return NopSink{}
	}
	return s
}
