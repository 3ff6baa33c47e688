package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/wastefleet/core/metrics"
)

// PromSink exposes per-bucket state and dispatch results as Prometheus metrics.
type PromSink struct {
	fill        *prometheus.GaugeVec
	battery     *prometheus.GaugeVec
	online      *prometheus.GaugeVec
	dispatches  *prometheus.CounterVec
	attempts    prometheus.Histogram
	turnaround  prometheus.Histogram
	technicians *prometheus.CounterVec
}

// NewPromSink registers the sink's collectors on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the sink's collectors on reg. A nil
// registerer defaults to the global one. Collectors already registered under
// the same name are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.fill, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bucket_fill_percent",
		Help: "Last committed fill percentage per bucket",
	}, []string{"bucket_id"})); err != nil {
		return nil, err
	}
	if s.battery, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bucket_battery_percent",
		Help: "Last reported sensor battery level per bucket",
	}, []string{"bucket_id"})); err != nil {
		return nil, err
	}
	if s.online, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bucket_online",
		Help: "1 when the bucket sensor reports online",
	}, []string{"bucket_id"})); err != nil {
		return nil, err
	}
	if s.dispatches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_assignments_total",
		Help: "Collection requests assigned per driver",
	}, []string{"driver_id"})); err != nil {
		return nil, err
	}
	if s.attempts, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_attempts",
		Help:    "Optimistic write attempts needed per assignment",
		Buckets: []float64{1, 2, 3, 5},
	})); err != nil {
		return nil, err
	}
	if s.turnaround, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collection_turnaround_seconds",
		Help:    "Time from request to collection",
		Buckets: prometheus.ExponentialBuckets(60, 2, 10),
	})); err != nil {
		return nil, err
	}
	if s.technicians, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "technician_requests_total",
		Help: "Technician request transitions by status",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (s *PromSink) RecordBucketState(ev coremetrics.BucketStateEvent) error {
	b := ev.Bucket
	s.fill.WithLabelValues(b.ID).Set(b.FillPercentage)
	s.battery.WithLabelValues(b.ID).Set(b.Health.BatteryLevel)
	online := 0.0
	if b.Health.IsOnline {
		online = 1
	}
	s.online.WithLabelValues(b.ID).Set(online)
	return nil
}

func (s *PromSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	s.dispatches.WithLabelValues(ev.DriverID).Inc()
	s.attempts.Observe(float64(ev.Attempts))
	return nil
}

func (s *PromSink) RecordCollection(ev coremetrics.CollectionEvent) error {
	s.turnaround.Observe(ev.Turnaround.Seconds())
	return nil
}

func (s *PromSink) RecordTechnician(ev coremetrics.TechnicianEvent) error {
	s.technicians.WithLabelValues(ev.Status).Inc()
	return nil
}
