// Package events defines the lifecycle events emitted on the event bus.
//
// Available event types:
//   - FillEvent: a bucket's fill level changed
//   - HealthEvent: a bucket reported a new health snapshot
//   - AssignedEvent: a driver was assigned to a full bucket
//   - CollectedEvent: a collection request reached collected
//   - TechnicianEvent: a technician request changed state
package events
