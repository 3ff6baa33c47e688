package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/wastefleet/core/events"
	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/internal/eventbus"
)

// EventCollector counts bus events by name and logs them at debug level.
type EventCollector struct {
	events  *prometheus.CounterVec
	dropped prometheus.GaugeFunc
	log     logger.Logger
}

// NewEventCollector registers the collector's metrics on reg (default
// registerer when nil).
func NewEventCollector(reg prometheus.Registerer, bus *eventbus.TypedBus[events.Event], log logger.Logger) (*EventCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &EventCollector{log: logger.OrNop(log)}
	var err error
	if c.events, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_events_total",
		Help: "Events published on the internal bus by name",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if bus != nil {
		if c.dropped, err = register(reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fleet_events_dropped",
			Help: "Event deliveries skipped because a subscriber lagged",
		}, func() float64 { return float64(bus.Dropped()) })); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Start consumes bus events until ctx is canceled or the bus is closed.
func (c *EventCollector) Start(ctx context.Context, bus *eventbus.TypedBus[events.Event]) {
	if bus == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				c.Observe(ev)
			}
		}
	}()
}

// Observe records a single event.
func (c *EventCollector) Observe(ev events.Event) {
	c.events.WithLabelValues(ev.Name()).Inc()
	switch e := ev.(type) {
	case events.AssignedEvent:
		c.log.Debugw("event", map[string]any{"event": e.Name(), "bucket_id": e.Request.BucketID, "driver_id": e.Request.DriverID})
	case events.CollectedEvent:
		c.log.Debugw("event", map[string]any{"event": e.Name(), "bucket_id": e.Request.BucketID, "request_id": e.Request.ID})
	case events.FillEvent:
		c.log.Debugw("event", map[string]any{"event": e.Name(), "bucket_id": e.BucketID, "fill": e.Current})
	default:
		c.log.Debugw("event", map[string]any{"event": ev.Name()})
	}
}
