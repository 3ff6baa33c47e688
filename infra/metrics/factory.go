package metrics

import (
	"fmt"

	"github.com/kilianp07/wastefleet/core/factory"
	coremetrics "github.com/kilianp07/wastefleet/core/metrics"
)

func init() {
	_ = coremetrics.RegisterMetricsSink("prometheus", func(map[string]any) (coremetrics.MetricsSink, error) {
		return NewPromSink()
	})
	_ = coremetrics.RegisterMetricsSink("influx", func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c InfluxConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.URL == "" || c.Bucket == "" {
			return nil, fmt.Errorf("influx sink: url and bucket are required")
		}
		return NewInfluxSinkWithFallback(c), nil
	})
}

// BuildSink instantiates every configured sink. No sinks yields a NopSink,
// one sink is returned as is, more are wrapped in a MultiSink.
func BuildSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	sinks := make([]coremetrics.MetricsSink, 0, len(cfg.Sinks))
	for _, mc := range cfg.Sinks {
		s, err := coremetrics.NewMetricsSink(mc)
		if err != nil {
			return nil, fmt.Errorf("metrics sink %q: %w", mc.Type, err)
		}
		sinks = append(sinks, s)
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
