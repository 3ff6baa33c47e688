// Package bucket ingests bin registrations, sensor readings and trash
// deposits, and hands every committed fill or health change to the
// dispatch coordinator.
package bucket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/evaluator"
	"github.com/kilianp07/wastefleet/core/events"
	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/metrics"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/monitoring"
	"github.com/kilianp07/wastefleet/core/store"
	"github.com/kilianp07/wastefleet/internal/eventbus"
)

const (
	opCreate       = "failed to create bucket"
	opUnique       = "failed to check bucket id"
	opFill         = "failed to update fill level"
	opHealth       = "failed to update sensor health"
	opAddTrash     = "failed to add trash"
	opRemoveTrash  = "failed to delete trash item"
	opDelete       = "failed to delete bucket"
	opGet          = "failed to fetch bucket"
	opListByOwner  = "failed to fetch user buckets"
	maxFillPercent = 100.0
	// DefaultCapacity applies when a bucket is registered without one.
	DefaultCapacity = 100.0
)

// Dispatcher is evaluated after every committed change.
type Dispatcher interface {
	Evaluate(ctx context.Context, bucketID string) (*model.CollectionRequest, error)
}

// Update is the outcome of a committed change. DispatchErr reports a
// failed dispatch evaluation; the change itself is committed regardless.
type Update struct {
	Bucket      model.Bucket
	Collection  *model.CollectionRequest
	DispatchErr error
}

// Service owns bucket mutations outside of the collection transitions.
type Service struct {
	store      store.Store
	dispatcher Dispatcher
	maxRetries int
	logger     logger.Logger

	mu      sync.RWMutex
	metrics metrics.MetricsSink
	bus     *eventbus.TypedBus[events.Event]
	now     func() time.Time
}

// NewService creates the bucket service. maxRetries <= 0 uses the store
// default.
func NewService(st store.Store, d Dispatcher, maxRetries int, log logger.Logger) (*Service, error) {
	if st == nil || d == nil {
		return nil, fmt.Errorf("bucket: nil parameter provided to NewService")
	}
	return &Service{
		store:      st,
		dispatcher: d,
		maxRetries: maxRetries,
		logger:     logger.OrNop(log),
		metrics:    metrics.NopSink{},
		now:        time.Now,
	}, nil
}

// SetMetricsSink configures the sink receiving bucket state snapshots.
func (s *Service) SetMetricsSink(m metrics.MetricsSink) {
	s.mu.Lock()
	s.metrics = metrics.OrNop(m)
	s.mu.Unlock()
}

// SetEventBus configures the bus receiving fill and health events.
func (s *Service) SetEventBus(b *eventbus.TypedBus[events.Event]) {
	s.mu.Lock()
	s.bus = b
	s.mu.Unlock()
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().UTC()
}

// IsBucketIDUnique reports whether no bucket uses code yet.
func (s *Service) IsBucketIDUnique(ctx context.Context, code string) (bool, error) {
	if !evaluator.ValidBucketID(code) {
		return false, errs.New(errs.ErrInvalidInput, opUnique, "bucket id %q must be 6 digits", code)
	}
	_, found, err := s.store.FindBucketByCode(ctx, code)
	if err != nil {
		return false, store.Wrap(opUnique, err)
	}
	return !found, nil
}

// Create registers a new bin. The 6-digit code is checked for uniqueness
// before writing; the store's unique index catches a concurrent duplicate.
func (s *Service) Create(ctx context.Context, in CreateInput) (Update, error) {
	if in.Capacity == 0 {
		in.Capacity = DefaultCapacity
	}
	if err := Validate(opCreate, in); err != nil {
		return Update{}, err
	}
	if !evaluator.ValidBucketID(in.BucketID) {
		return Update{}, errs.New(errs.ErrInvalidInput, opCreate, "bucket id %q must be 6 digits", in.BucketID)
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return Update{}, errs.New(errs.ErrInvalidInput, opCreate, "latitude and longitude must be set together")
	}
	unique, err := s.IsBucketIDUnique(ctx, in.BucketID)
	if err != nil {
		return Update{}, errs.Wrap(errs.ErrUnavailable, opCreate, err)
	}
	if !unique {
		return Update{}, errs.New(errs.ErrConflict, opCreate, "bucket id %s already in use", in.BucketID)
	}

	now := s.clock()
	b := model.Bucket{
		ID:             uuid.NewString(),
		BucketID:       in.BucketID,
		Name:           in.Name,
		UserID:         in.UserID,
		Capacity:       in.Capacity,
		FillPercentage: in.FillPercentage,
		Address:        in.Address,
		Health: model.Health{
			SensorUptime:   100,
			BatteryLevel:   100,
			SignalStrength: evaluator.MaxSignal,
			IsOnline:       true,
		},
		LastMaintenance: now,
		CreatedAt:       now,
		LastUpdated:     now,
	}
	if in.Latitude != nil {
		b.Location = &model.GeoPoint{Latitude: *in.Latitude, Longitude: *in.Longitude}
	}
	if err := s.store.CreateBucket(ctx, b); err != nil {
		return Update{}, store.Wrap(opCreate, err)
	}
	b.Version = 1
	s.logger.Infow("bucket created", map[string]any{"id": b.ID, "bucket_id": b.BucketID, "user_id": b.UserID})
	return s.afterCommit(ctx, b, "create"), nil
}

// UpdateFill records a sensor fill reading.
func (s *Service) UpdateFill(ctx context.Context, id string, fill float64) (Update, error) {
	if !evaluator.ValidFill(fill) {
		return Update{}, errs.New(errs.ErrInvalidInput, opFill, "fill %v outside [0,100]", fill)
	}
	var prev float64
	b, err := store.WithRetry(ctx, s.store, s.maxRetries, id, func(b *model.Bucket) (*store.Mutation, error) {
		prev = b.FillPercentage
		b.FillPercentage = fill
		b.LastUpdated = s.clock()
		return &store.Mutation{}, nil
	})
	if err != nil {
		return Update{}, s.fail(opFill, err)
	}
	s.publish(events.FillEvent{BucketID: b.ID, Previous: prev, Current: b.FillPercentage, Time: b.LastUpdated})
	return s.afterCommit(ctx, b, "fill"), nil
}

// UpdateHealth replaces the health snapshot. An invalid reading is rejected
// as a whole before anything is written.
func (s *Service) UpdateHealth(ctx context.Context, id string, in HealthInput) (Update, error) {
	if err := Validate(opHealth, in); err != nil {
		return Update{}, err
	}
	h := model.Health(in)
	if !evaluator.ValidateHealth(h.SensorUptime, h.BatteryLevel, h.SignalStrength) {
		return Update{}, errs.New(errs.ErrInvalidInput, opHealth, "health reading out of range")
	}
	b, err := store.WithRetry(ctx, s.store, s.maxRetries, id, func(b *model.Bucket) (*store.Mutation, error) {
		b.Health = h
		b.LastUpdated = s.clock()
		return &store.Mutation{}, nil
	})
	if err != nil {
		return Update{}, s.fail(opHealth, err)
	}
	s.publish(events.HealthEvent{BucketID: b.ID, Health: b.Health, Time: b.LastUpdated})
	return s.afterCommit(ctx, b, "health"), nil
}

// TrashResult is the outcome of AddTrash.
type TrashResult struct {
	Update
	Item model.TrashItem
}

// AddTrash records a deposit and raises the bucket's fill by the weight's
// share of its capacity, capped at 100 percent. The item and the new fill
// commit together.
func (s *Service) AddTrash(ctx context.Context, in TrashInput) (TrashResult, error) {
	if err := Validate(opAddTrash, in); err != nil {
		return TrashResult{}, err
	}
	tt, err := model.ParseTrashType(in.TrashType)
	if err != nil {
		return TrashResult{}, errs.Wrap(errs.ErrInvalidInput, opAddTrash, err)
	}

	var (
		item model.TrashItem
		prev float64
	)
	b, err := store.WithRetry(ctx, s.store, s.maxRetries, in.BucketID, func(b *model.Bucket) (*store.Mutation, error) {
		prev = b.FillPercentage
		fill, err := evaluator.ComputeFillAfterAdd(b.FillPercentage, evaluator.FillDelta(in.Weight, b.Capacity), maxFillPercent)
		if err != nil {
			return nil, err
		}
		now := s.clock()
		owner := in.UserID
		if owner == "" {
			owner = b.UserID
		}
		item = model.TrashItem{
			ID:          uuid.NewString(),
			BucketID:    b.ID,
			BucketName:  b.Name,
			UserID:      owner,
			TrashType:   tt,
			Weight:      in.Weight,
			Description: in.Description,
			Status:      model.TrashAdded,
			CreatedAt:   now,
		}
		b.FillPercentage = fill
		b.LastUpdated = now
		return &store.Mutation{CreateTrash: &item}, nil
	})
	if err != nil {
		return TrashResult{}, s.fail(opAddTrash, err)
	}
	s.logger.Debugw("trash added", map[string]any{"bucket_id": b.ID, "trash_id": item.ID, "fill": b.FillPercentage})
	s.publish(events.FillEvent{BucketID: b.ID, Previous: prev, Current: b.FillPercentage, Time: b.LastUpdated})
	return TrashResult{Update: s.afterCommit(ctx, b, "trash"), Item: item}, nil
}

// RemoveTrash marks a trash item removed so it no longer counts in
// statistics. The bucket fill is left to the next sensor reading.
func (s *Service) RemoveTrash(ctx context.Context, trashID string) error {
	if trashID == "" {
		return errs.New(errs.ErrInvalidInput, opRemoveTrash, "trash id is required")
	}
	item, err := s.store.GetTrash(ctx, trashID)
	if err != nil {
		return s.fail(opRemoveTrash, err)
	}
	if item.Status == model.TrashRemoved {
		return errs.New(errs.ErrNotFound, opRemoveTrash, "trash item %s already removed", trashID)
	}
	now := s.clock()
	item.Status = model.TrashRemoved
	item.RemovedAt = &now
	if err := s.store.UpdateTrash(ctx, item); err != nil {
		return s.fail(opRemoveTrash, err)
	}
	s.logger.Infof("trash item %s removed from bucket %s", item.ID, item.BucketID)
	return nil
}

// Delete removes a bucket that no open collection or technician request
// references.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetBucket(ctx, id); err != nil {
		return s.fail(opDelete, err)
	}
	cols, err := s.store.ListCollectionRequests(ctx, store.CollectionFilter{BucketID: id, OpenOnly: true})
	if err != nil {
		return s.fail(opDelete, err)
	}
	if len(cols) > 0 {
		return errs.New(errs.ErrConflict, opDelete, "bucket %s has an open collection request %s", id, cols[0].ID)
	}
	techs, err := s.store.ListTechnicianRequests(ctx, store.TechnicianFilter{BucketID: id, OpenOnly: true})
	if err != nil {
		return s.fail(opDelete, err)
	}
	if len(techs) > 0 {
		return errs.New(errs.ErrConflict, opDelete, "bucket %s has an open technician request %s", id, techs[0].ID)
	}
	if err := s.store.DeleteBucket(ctx, id); err != nil {
		return s.fail(opDelete, err)
	}
	s.logger.Infof("bucket %s deleted", id)
	return nil
}

// Get returns one bucket.
func (s *Service) Get(ctx context.Context, id string) (model.Bucket, error) {
	b, err := s.store.GetBucket(ctx, id)
	if err != nil {
		return model.Bucket{}, store.Wrap(opGet, err)
	}
	return b, nil
}

// GetByCode returns the bucket registered under the 6-digit code.
func (s *Service) GetByCode(ctx context.Context, code string) (model.Bucket, error) {
	if !evaluator.ValidBucketID(code) {
		return model.Bucket{}, errs.New(errs.ErrInvalidInput, opGet, "bucket id %q must be 6 digits", code)
	}
	b, found, err := s.store.FindBucketByCode(ctx, code)
	if err != nil {
		return model.Bucket{}, store.Wrap(opGet, err)
	}
	if !found {
		return model.Bucket{}, errs.New(errs.ErrNotFound, opGet, "no bucket with id %s", code)
	}
	return b, nil
}

// ListByOwner returns the buckets of a user.
func (s *Service) ListByOwner(ctx context.Context, userID string) ([]model.Bucket, error) {
	if userID == "" {
		return nil, errs.New(errs.ErrInvalidInput, opListByOwner, "user id is required")
	}
	bs, err := s.store.ListBucketsByOwner(ctx, userID)
	if err != nil {
		return nil, s.fail(opListByOwner, err)
	}
	return bs, nil
}

// afterCommit records the new state and runs dispatch evaluation.
func (s *Service) afterCommit(ctx context.Context, b model.Bucket, reason string) Update {
	s.mu.RLock()
	sink := s.metrics
	s.mu.RUnlock()
	if err := sink.RecordBucketState(metrics.BucketStateEvent{
		Bucket:    b,
		Status:    string(evaluator.ClassifyFillStatus(b.FillPercentage)),
		Context:   reason,
		Component: "bucket",
		Time:      b.LastUpdated,
	}); err != nil {
		s.logger.Warnf("bucket: record state %s: %v", b.ID, err)
	}

	up := Update{Bucket: b}
	if !evaluator.Eligible(b) {
		return up
	}
	req, err := s.dispatcher.Evaluate(ctx, b.ID)
	if err != nil {
		up.DispatchErr = err
		return up
	}
	up.Collection = req
	if req != nil {
		if fresh, err := s.store.GetBucket(ctx, b.ID); err == nil {
			up.Bucket = fresh
		} else {
			up.Bucket.IsAssigned = true
		}
	}
	return up
}

func (s *Service) publish(ev events.Event) {
	s.mu.RLock()
	bus := s.bus
	s.mu.RUnlock()
	if bus != nil {
		bus.Publish(ev)
	}
}

func (s *Service) fail(op string, err error) error {
	err = store.Wrap(op, err)
	monitoring.Report(op, err)
	return err
}
