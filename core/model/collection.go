package model

import "time"

// CollectionStatus is the lifecycle state of a CollectionRequest.
type CollectionStatus string

const (
	CollectionPending    CollectionStatus = "pending"
	CollectionInProgress CollectionStatus = "in_progress"
	CollectionCollected  CollectionStatus = "collected"
)

// Open reports whether the request still holds its bucket.
func (s CollectionStatus) Open() bool {
	return s == CollectionPending || s == CollectionInProgress
}

// RequestLocation is where the driver is sent.
type RequestLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// CollectionRequest asks a driver to empty a bucket.
type CollectionRequest struct {
	ID          string           `json:"id"`
	BucketID    string           `json:"bucket_id"`
	BucketCode  string           `json:"bucket_code,omitempty"`
	BucketName  string           `json:"bucket_name,omitempty"`
	DriverID    string           `json:"driver_id"`
	Location    RequestLocation  `json:"location"`
	Status      CollectionStatus `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CollectedAt *time.Time       `json:"collected_at,omitempty"`
}
