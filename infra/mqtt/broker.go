package mqtt

import (
	"context"
	"fmt"
	"strings"
)

// Topic layout shared with the field devices.
const (
	SensorFillTopic        = "bins/+/fill"
	SensorHealthTopic      = "bins/+/health"
	DriverPresenceTopic    = "drivers/+/presence"
	DriverCollectionsTopic = "drivers/+/collections"

	binFill           = "bins/%s/fill"
	binHealth         = "bins/%s/health"
	driverPresence    = "drivers/%s/presence"
	driverCollections = "drivers/%s/collections"
)

// FillTopic is where the bin with the given code reports its fill level.
func FillTopic(code string) string { return fmt.Sprintf(binFill, code) }

// HealthTopic is where the bin with the given code reports sensor health.
func HealthTopic(code string) string { return fmt.Sprintf(binHealth, code) }

// TopicSegment returns the bin code or driver id carried by a device topic.
func TopicSegment(topic string) (string, bool) { return topicSegment(topic) }

// Broker is the subset of PahoClient used by the fleet components.
type Broker interface {
	Subscribe(topic, qosKey string, h Handler) error
	Publish(ctx context.Context, topic, qosKey string, retained bool, payload []byte) error
}

// topicSegment returns the single-level wildcard value of topic, which must
// have the shape prefix/<id>/suffix.
func topicSegment(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
