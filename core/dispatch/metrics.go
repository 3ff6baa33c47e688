package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	collectionRequests *prometheus.CounterVec
	dispatchConflicts  prometheus.Counter
	evaluationLatency  *prometheus.HistogramVec
	bucketsAssigned    prometheus.Gauge
	notifications      *prometheus.CounterVec
)

func newCollectors() (*prometheus.CounterVec, prometheus.Counter, *prometheus.HistogramVec, prometheus.Gauge, *prometheus.CounterVec) {
	req := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_requests_total",
			Help: "Collection request transitions by resulting status",
		},
		[]string{"status"},
	)
	conf := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_conflicts_total",
			Help: "Optimistic writes that lost the race and were retried or abandoned",
		},
	)
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_evaluation_latency_seconds",
			Help:    "Time spent evaluating a bucket for driver assignment",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	asg := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "buckets_assigned",
			Help: "Buckets currently waiting for or undergoing collection",
		},
	)
	ntf := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driver_notifications_total",
			Help: "Driver notifications by result",
		},
		[]string{"result"},
	)
	return req, conf, lat, asg, ntf
}

func init() {
	collectionRequests, dispatchConflicts, evaluationLatency, bucketsAssigned, notifications = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(collectionRequests, dispatchConflicts, evaluationLatency, bucketsAssigned, notifications)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	collectionRequests, dispatchConflicts, evaluationLatency, bucketsAssigned, notifications = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
