// Package infra holds the adapters that connect the fleet core to the
// outside world: document stores, the MQTT device bridge, metric sinks and
// error reporting. Adapters implement interfaces owned by core packages and
// are assembled in package app.
package infra
