// Package store defines the document store contract used by the core
// services. Implementations live in infra/docstore.
package store

import (
	"context"
	"errors"

	"github.com/kilianp07/wastefleet/core/model"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrVersionMismatch is returned when a conditional write finds a
	// different version than expected.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrDuplicateKey is returned when a create collides with an existing key.
	ErrDuplicateKey = errors.New("duplicate key")
)

// CollectionFilter selects collection requests. Empty fields match anything.
type CollectionFilter struct {
	BucketID string
	DriverID string
	Status   model.CollectionStatus
	OpenOnly bool
}

// Match reports whether r satisfies the filter.
func (f CollectionFilter) Match(r model.CollectionRequest) bool {
	if f.BucketID != "" && r.BucketID != f.BucketID {
		return false
	}
	if f.DriverID != "" && r.DriverID != f.DriverID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.OpenOnly && !r.Status.Open() {
		return false
	}
	return true
}

// TechnicianFilter selects technician requests. Empty fields match anything.
type TechnicianFilter struct {
	BucketID string
	Status   model.TechnicianStatus
	OpenOnly bool
}

// Match reports whether r satisfies the filter.
func (f TechnicianFilter) Match(r model.TechnicianRequest) bool {
	if f.BucketID != "" && r.BucketID != f.BucketID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.OpenOnly && !r.Status.Open() {
		return false
	}
	return true
}

// Mutation is a multi-document write committed atomically. Bucket is written
// only if its stored version still equals ExpectedVersion; when that check
// fails nothing in the mutation is written.
type Mutation struct {
	Bucket          *model.Bucket
	ExpectedVersion int64

	CreateCollection *model.CollectionRequest
	UpdateCollection *model.CollectionRequest
	CreateTrash      *model.TrashItem
}

// Store is the typed access layer over the external document store.
type Store interface {
	GetBucket(ctx context.Context, id string) (model.Bucket, error)
	// FindBucketByCode looks a bucket up by its 6-digit code. ok is false when
	// no bucket uses the code.
	FindBucketByCode(ctx context.Context, code string) (b model.Bucket, ok bool, err error)
	CreateBucket(ctx context.Context, b model.Bucket) error
	// PutBucket replaces the bucket if its stored version equals expectedVersion.
	PutBucket(ctx context.Context, b model.Bucket, expectedVersion int64) error
	DeleteBucket(ctx context.Context, id string) error
	ListBuckets(ctx context.Context) ([]model.Bucket, error)
	ListBucketsByOwner(ctx context.Context, userID string) ([]model.Bucket, error)

	CreateCollectionRequest(ctx context.Context, r model.CollectionRequest) (string, error)
	GetCollectionRequest(ctx context.Context, id string) (model.CollectionRequest, error)
	UpdateCollectionRequest(ctx context.Context, r model.CollectionRequest) error
	ListCollectionRequests(ctx context.Context, f CollectionFilter) ([]model.CollectionRequest, error)

	CreateTechnicianRequest(ctx context.Context, r model.TechnicianRequest) (string, error)
	GetTechnicianRequest(ctx context.Context, id string) (model.TechnicianRequest, error)
	UpdateTechnicianRequest(ctx context.Context, r model.TechnicianRequest) error
	ListTechnicianRequests(ctx context.Context, f TechnicianFilter) ([]model.TechnicianRequest, error)

	CreateTrash(ctx context.Context, t model.TrashItem) error
	GetTrash(ctx context.Context, id string) (model.TrashItem, error)
	UpdateTrash(ctx context.Context, t model.TrashItem) error
	ListTrashByOwner(ctx context.Context, userID string) ([]model.TrashItem, error)

	// Apply commits m atomically.
	Apply(ctx context.Context, m Mutation) error

	Close() error
}
