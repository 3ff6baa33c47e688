package metrics

import "github.com/kilianp07/wastefleet/core/factory"

var registry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink makes a sink implementation available by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return registry.Register(name, f)
}

// NewMetricsSink builds a sink from its module configuration.
func NewMetricsSink(cfg factory.ModuleConfig) (MetricsSink, error) {
	return registry.Create(cfg)
}

func init() {
	_ = RegisterMetricsSink("nop", func(map[string]any) (MetricsSink, error) { return NopSink{}, nil })
}
