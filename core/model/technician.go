package model

import "time"

// TechnicianStatus is the lifecycle state of a TechnicianRequest.
type TechnicianStatus string

const (
	TechnicianPending  TechnicianStatus = "pending"
	TechnicianAssigned TechnicianStatus = "assigned"
	TechnicianResolved TechnicianStatus = "resolved"
)

// Open reports whether the request blocks a new one on the same bucket.
func (s TechnicianStatus) Open() bool {
	return s == TechnicianPending || s == TechnicianAssigned
}

// TechnicianRequest is a maintenance ticket against a bucket's sensor hardware.
type TechnicianRequest struct {
	ID           string           `json:"id"`
	BucketID     string           `json:"bucket_id"`
	TechnicianID string           `json:"technician_id,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Status       TechnicianStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	AssignedAt   *time.Time       `json:"assigned_at,omitempty"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
}
