package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/wastefleet/core/metrics"
)

// MultiSink fans records out to several sinks. Every sink is tried; errors
// are joined.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordBucketState(ev coremetrics.BucketStateEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordBucketState(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordDispatch(ev))
	}
	return errors.Join(errs...)
}

// RecordCollection forwards to sinks implementing CollectionRecorder.
func (m *MultiSink) RecordCollection(ev coremetrics.CollectionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.CollectionRecorder); ok {
			errs = append(errs, rec.RecordCollection(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordTechnician forwards to sinks implementing TechnicianRecorder.
func (m *MultiSink) RecordTechnician(ev coremetrics.TechnicianEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.TechnicianRecorder); ok {
			errs = append(errs, rec.RecordTechnician(ev))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
