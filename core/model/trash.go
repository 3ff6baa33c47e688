package model

import (
	"fmt"
	"time"
)

// TrashType categorises a TrashItem.
type TrashType string

const (
	TrashOrganic       TrashType = "organic"
	TrashRecyclable    TrashType = "recyclable"
	TrashNonRecyclable TrashType = "non-recyclable"
)

// ParseTrashType converts the string representation into a TrashType.
func ParseTrashType(s string) (TrashType, error) {
	switch TrashType(s) {
	case TrashOrganic, TrashRecyclable, TrashNonRecyclable:
		return TrashType(s), nil
	default:
		return "", fmt.Errorf("unknown trash type %q", s)
	}
}

// Valid reports whether t is one of the known categories.
func (t TrashType) Valid() bool {
	_, err := ParseTrashType(string(t))
	return err == nil
}

// DisplayName returns the human readable category name.
func (t TrashType) DisplayName() string {
	switch t {
	case TrashOrganic:
		return "Organic Waste"
	case TrashRecyclable:
		return "Recyclable"
	case TrashNonRecyclable:
		return "Non-Recyclable"
	default:
		return "Unknown"
	}
}

// Color returns the category color as a hex triplet.
func (t TrashType) Color() string {
	switch t {
	case TrashOrganic:
		return "#4CAF50"
	case TrashRecyclable:
		return "#2196F3"
	case TrashNonRecyclable:
		return "#F44336"
	default:
		return "#9E9E9E"
	}
}

// Icon returns the category glyph.
func (t TrashType) Icon() string {
	switch t {
	case TrashOrganic:
		return "🍎"
	case TrashRecyclable:
		return "♻️"
	case TrashNonRecyclable:
		return "🚫"
	default:
		return "🗑️"
	}
}

// TrashStatus tracks whether an item still counts toward a bucket.
type TrashStatus string

const (
	TrashAdded   TrashStatus = "added"
	TrashRemoved TrashStatus = "removed"
)

// TrashItem is one deposit into a bucket.
type TrashItem struct {
	ID          string      `json:"id"`
	BucketID    string      `json:"bucket_id"`
	BucketName  string      `json:"bucket_name,omitempty"`
	UserID      string      `json:"user_id"`
	TrashType   TrashType   `json:"trash_type"`
	Weight      float64     `json:"weight"` // kilograms
	Description string      `json:"description,omitempty"`
	Status      TrashStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	RemovedAt   *time.Time  `json:"removed_at,omitempty"`
}
