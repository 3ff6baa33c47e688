package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/wastefleet/core/model"
)

// Assignment is the message a driver receives for a new collection.
type Assignment struct {
	RequestID   string                `json:"request_id"`
	BucketID    string                `json:"bucket_id"`
	BucketCode  string                `json:"bucket_code"`
	BucketName  string                `json:"bucket_name,omitempty"`
	Location    model.RequestLocation `json:"location"`
	RequestedAt time.Time             `json:"requested_at"`
}

// DriverNotifier publishes collection assignments on
// drivers/<driver id>/collections.
type DriverNotifier struct {
	broker Broker
}

// NewDriverNotifier creates a notifier publishing through b.
func NewDriverNotifier(b Broker) (*DriverNotifier, error) {
	if b == nil {
		return nil, fmt.Errorf("broker is nil")
	}
	return &DriverNotifier{broker: b}, nil
}

// NotifyAssignment implements dispatch.Notifier.
func (n *DriverNotifier) NotifyAssignment(ctx context.Context, req model.CollectionRequest) error {
	if req.DriverID == "" {
		return fmt.Errorf("collection %s has no driver", req.ID)
	}
	payload, err := json.Marshal(Assignment{
		RequestID:   req.ID,
		BucketID:    req.BucketID,
		BucketCode:  req.BucketCode,
		BucketName:  req.BucketName,
		Location:    req.Location,
		RequestedAt: req.RequestedAt,
	})
	if err != nil {
		return err
	}
	return n.broker.Publish(ctx, fmt.Sprintf(driverCollections, req.DriverID), QoSCollection, false, payload)
}
