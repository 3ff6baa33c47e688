// Package metrics defines the observability sinks fed by the core services.
//
// Sinks implement MetricsSink and may optionally implement the narrower
// recorder interfaces; callers probe for them with a type assertion.
package metrics
