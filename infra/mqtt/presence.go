package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/kilianp07/wastefleet/core/logger"
)

// Presence is the retained payload a driver publishes to announce itself.
type Presence struct {
	Available bool `json:"available"`
}

// AnnouncePresence publishes the driver's retained presence.
func AnnouncePresence(ctx context.Context, b Broker, driverID string, available bool) error {
	if driverID == "" {
		return fmt.Errorf("driver id is empty")
	}
	payload, err := json.Marshal(Presence{Available: available})
	if err != nil {
		return err
	}
	return b.Publish(ctx, fmt.Sprintf(driverPresence, driverID), QoSPresence, true, payload)
}

// PresenceDirectory tracks drivers announcing themselves on the retained
// drivers/<id>/presence topic. An empty retained message removes the driver.
type PresenceDirectory struct {
	logger logger.Logger

	mu      sync.RWMutex
	drivers map[string]bool
}

// NewPresenceDirectory subscribes to driver presence updates.
func NewPresenceDirectory(b Broker, log logger.Logger) (*PresenceDirectory, error) {
	if b == nil {
		return nil, fmt.Errorf("broker is nil")
	}
	d := &PresenceDirectory{logger: logger.OrNop(log), drivers: make(map[string]bool)}
	if err := b.Subscribe(DriverPresenceTopic, QoSPresence, d.onPresence); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *PresenceDirectory) onPresence(topic string, payload []byte) {
	id, ok := topicSegment(topic)
	if !ok {
		return
	}
	var p Presence
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			d.logger.Warnf("discarding presence for %s: %v", id, err)
			return
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.Available {
		d.drivers[id] = true
	} else {
		delete(d.drivers, id)
	}
	d.logger.Debugf("driver %s available=%t", id, p.Available)
}

// AvailableDrivers implements dispatch.DriverDirectory. The result is sorted.
func (d *PresenceDirectory) AvailableDrivers(context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.drivers))
	for id := range d.drivers {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}
