package events

import (
	"time"

	"github.com/kilianp07/wastefleet/core/model"
)

// Event is implemented by every event published on the bus.
type Event interface {
	// Name is a stable identifier used for logging and routing.
	Name() string
}

// FillEvent is published after a fill change commits.
type FillEvent struct {
	BucketID string
	Previous float64
	Current  float64
	Time     time.Time
}

func (FillEvent) Name() string { return "bucket.fill" }

// HealthEvent is published after a health snapshot commits.
type HealthEvent struct {
	BucketID string
	Health   model.Health
	Time     time.Time
}

func (HealthEvent) Name() string { return "bucket.health" }

// AssignedEvent is published once per Eligible -> Assigned transition.
type AssignedEvent struct {
	Request model.CollectionRequest
}

func (AssignedEvent) Name() string { return "dispatch.assigned" }

// CollectedEvent is published when a bucket has been emptied.
type CollectedEvent struct {
	Request model.CollectionRequest
}

func (CollectedEvent) Name() string { return "dispatch.collected" }

// TechnicianEvent is published on every technician request transition.
type TechnicianEvent struct {
	Request model.TechnicianRequest
}

func (e TechnicianEvent) Name() string { return "technician." + string(e.Request.Status) }
