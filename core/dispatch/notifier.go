package dispatch

import (
	"context"

	"github.com/kilianp07/wastefleet/core/model"
)

// Notifier tells a driver about a new collection request.
type Notifier interface {
	NotifyAssignment(ctx context.Context, req model.CollectionRequest) error
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyAssignment(context.Context, model.CollectionRequest) error { return nil }
