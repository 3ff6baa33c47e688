// Package dispatch drives buckets through the collection cycle: a full,
// online, unassigned bucket gets exactly one pending collection request and
// a driver; marking it collected empties the bucket and makes it eligible
// again.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/wastefleet/core/dispatch/audit"
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
	opCreate    = "failed to create collection request"
	opStart     = "failed to start collection"
	opCollected = "failed to mark bin as collected"
)

// Coordinator owns the Eligible -> Assigned -> Collected transitions.
type Coordinator struct {
	store         store.Store
	drivers       DriverDirectory
	selector      DriverSelector
	maxRetries    int
	notifyTimeout time.Duration
	logger        logger.Logger

	mu       sync.RWMutex
	notifier Notifier
	metrics  metrics.MetricsSink
	bus      *eventbus.TypedBus[events.Event]
	audit    audit.Store
	now      func() time.Time
}

// NewCoordinator wires a coordinator. drivers and selector are required.
func NewCoordinator(st store.Store, drivers DriverDirectory, selector DriverSelector, cfg Config, log logger.Logger) (*Coordinator, error) {
	if st == nil || drivers == nil || selector == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewCoordinator")
	}
	cfg.SetDefaults()
	return &Coordinator{
		store:         st,
		drivers:       drivers,
		selector:      selector,
		maxRetries:    cfg.MaxRetries,
		notifyTimeout: cfg.NotifyTimeout,
		logger:        logger.OrNop(log),
		notifier:      NopNotifier{},
		metrics:       metrics.NopSink{},
		audit:         audit.Nop{},
		now:           time.Now,
	}, nil
}

// SetNotifier configures how drivers learn about new requests.
func (c *Coordinator) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// SetMetricsSink configures the sink receiving dispatch results.
func (c *Coordinator) SetMetricsSink(s metrics.MetricsSink) {
	c.mu.Lock()
	c.metrics = metrics.OrNop(s)
	c.mu.Unlock()
}

// SetEventBus configures the bus receiving dispatch events.
func (c *Coordinator) SetEventBus(b *eventbus.TypedBus[events.Event]) {
	c.mu.Lock()
	c.bus = b
	c.mu.Unlock()
}

// SetAuditLog configures the store persisting dispatch transitions.
func (c *Coordinator) SetAuditLog(a audit.Store) {
	if a == nil {
		a = audit.Nop{}
	}
	c.mu.Lock()
	c.audit = a
	c.mu.Unlock()
}

// SetClock overrides the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type sideEffects struct {
	notifier Notifier
	metrics  metrics.MetricsSink
	bus      *eventbus.TypedBus[events.Event]
	audit    audit.Store
	now      func() time.Time
}

func (c *Coordinator) deps() sideEffects {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sideEffects{notifier: c.notifier, metrics: c.metrics, bus: c.bus, audit: c.audit, now: c.now}
}

// Evaluate assigns a driver to the bucket if it is eligible. It returns the
// created request, or nil when the bucket is not eligible (including when it
// is already assigned). A lost race re-runs the whole read-decide-write
// cycle, so concurrent callers produce at most one open request.
func (c *Coordinator) Evaluate(ctx context.Context, bucketID string) (*model.CollectionRequest, error) {
	d := c.deps()
	start := time.Now()
	outcome := "skipped"
	defer func() {
		evaluationLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	var created *model.CollectionRequest
	attempts := 0
	b, err := store.WithRetry(ctx, c.store, c.maxRetries, bucketID, func(b *model.Bucket) (*store.Mutation, error) {
		attempts++
		created = nil
		if !evaluator.Eligible(*b) {
			return nil, nil
		}
		drivers, err := c.drivers.AvailableDrivers(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.ErrUnavailable, "driver directory", err)
		}
		if len(drivers) == 0 {
			return nil, errs.New(errs.ErrUnavailable, "", "no available drivers")
		}
		now := d.now().UTC()
		req := model.CollectionRequest{
			ID:          uuid.NewString(),
			BucketID:    b.ID,
			BucketCode:  b.BucketID,
			BucketName:  b.Name,
			DriverID:    c.selector.Select(*b, drivers),
			Location:    requestLocation(*b),
			Status:      model.CollectionPending,
			RequestedAt: now,
		}
		b.IsAssigned = true
		b.LastUpdated = now
		created = &req
		return &store.Mutation{CreateCollection: &req}, nil
	})
	if attempts > 1 {
		dispatchConflicts.Add(float64(attempts - 1))
	}
	if err != nil {
		outcome = "error"
		if errors.Is(err, store.ErrContention) {
			dispatchConflicts.Inc()
		}
		err = store.Wrap(opCreate, err)
		monitoring.Report(opCreate, err)
		c.logger.Warnf("dispatch: evaluate bucket %s: %v", bucketID, err)
		return nil, err
	}
	if created == nil {
		return nil, nil
	}
	outcome = "assigned"
	c.afterAssign(ctx, d, b, *created, attempts, time.Since(start))
	return created, nil
}

func (c *Coordinator) afterAssign(ctx context.Context, d sideEffects, b model.Bucket, req model.CollectionRequest, attempts int, latency time.Duration) {
	collectionRequests.WithLabelValues(string(model.CollectionPending)).Inc()
	bucketsAssigned.Inc()
	c.logger.Infow("collection request created", map[string]any{
		"request_id": req.ID,
		"bucket_id":  req.BucketID,
		"driver_id":  req.DriverID,
		"fill":       b.FillPercentage,
		"attempts":   attempts,
	})
	if d.bus != nil {
		d.bus.Publish(events.AssignedEvent{Request: req})
	}
	if err := d.metrics.RecordDispatch(metrics.DispatchEvent{
		RequestID: req.ID,
		BucketID:  req.BucketID,
		DriverID:  req.DriverID,
		Fill:      b.FillPercentage,
		Attempts:  attempts,
		Latency:   latency,
		Time:      req.RequestedAt,
	}); err != nil {
		c.logger.Warnf("dispatch: record metrics: %v", err)
	}
	c.appendAudit(ctx, d, audit.Record{
		Timestamp: req.RequestedAt,
		Action:    audit.ActionAssigned,
		RequestID: req.ID,
		BucketID:  req.BucketID,
		DriverID:  req.DriverID,
		Fill:      b.FillPercentage,
		Attempts:  attempts,
	})

	nctx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
	defer cancel()
	if err := d.notifier.NotifyAssignment(nctx, req); err != nil {
		notifications.WithLabelValues("failure").Inc()
		c.logger.Warnf("dispatch: notify driver %s for request %s: %v", req.DriverID, req.ID, err)
		monitoring.Report("notify driver", errs.Wrap(errs.ErrUnavailable, "notify driver", err))
		return
	}
	notifications.WithLabelValues("success").Inc()
}

// StartCollection moves a pending request to in_progress.
func (c *Coordinator) StartCollection(ctx context.Context, requestID string) (model.CollectionRequest, error) {
	d := c.deps()
	req, _, err := c.transition(ctx, requestID, opStart, func(req *model.CollectionRequest, b *model.Bucket, now time.Time) error {
		if req.Status != model.CollectionPending {
			return errs.New(errs.ErrInvalidState, "", "request %s is %s, want %s", req.ID, req.Status, model.CollectionPending)
		}
		req.Status = model.CollectionInProgress
		req.StartedAt = &now
		return nil
	})
	if err != nil {
		return model.CollectionRequest{}, err
	}
	collectionRequests.WithLabelValues(string(model.CollectionInProgress)).Inc()
	c.appendAudit(ctx, d, audit.Record{
		Timestamp: *req.StartedAt,
		Action:    audit.ActionStarted,
		RequestID: req.ID,
		BucketID:  req.BucketID,
		DriverID:  req.DriverID,
	})
	return req, nil
}

// MarkCollected closes the request, empties the bucket and clears its
// assignment in one atomic write.
func (c *Coordinator) MarkCollected(ctx context.Context, requestID string) (model.CollectionRequest, error) {
	d := c.deps()
	req, b, err := c.transition(ctx, requestID, opCollected, func(req *model.CollectionRequest, b *model.Bucket, now time.Time) error {
		if !req.Status.Open() {
			return errs.New(errs.ErrInvalidState, "", "request %s is already %s", req.ID, req.Status)
		}
		req.Status = model.CollectionCollected
		req.CollectedAt = &now
		b.FillPercentage = 0
		b.IsAssigned = false
		b.LastUpdated = now
		return nil
	})
	if err != nil {
		return model.CollectionRequest{}, err
	}

	collectionRequests.WithLabelValues(string(model.CollectionCollected)).Inc()
	bucketsAssigned.Dec()
	c.logger.Infow("bin collected", map[string]any{
		"request_id": req.ID,
		"bucket_id":  req.BucketID,
		"driver_id":  req.DriverID,
	})
	if d.bus != nil {
		d.bus.Publish(events.CollectedEvent{Request: req})
	}
	if rec, ok := d.metrics.(metrics.CollectionRecorder); ok {
		if err := rec.RecordCollection(metrics.CollectionEvent{
			RequestID:  req.ID,
			BucketID:   req.BucketID,
			DriverID:   req.DriverID,
			Turnaround: req.CollectedAt.Sub(req.RequestedAt),
			Time:       *req.CollectedAt,
		}); err != nil {
			c.logger.Warnf("dispatch: record collection: %v", err)
		}
	}
	if err := d.metrics.RecordBucketState(metrics.BucketStateEvent{
		Bucket:    b,
		Status:    string(evaluator.ClassifyFillStatus(b.FillPercentage)),
		Context:   "collected",
		Component: "dispatch",
		Time:      *req.CollectedAt,
	}); err != nil {
		c.logger.Warnf("dispatch: record bucket state: %v", err)
	}
	c.appendAudit(ctx, d, audit.Record{
		Timestamp: *req.CollectedAt,
		Action:    audit.ActionCollected,
		RequestID: req.ID,
		BucketID:  req.BucketID,
		DriverID:  req.DriverID,
	})
	return req, nil
}

type transitionFunc func(req *model.CollectionRequest, b *model.Bucket, now time.Time) error

// transition applies fn to a request and its bucket under the bucket's
// version guard. The request is re-read on every attempt.
func (c *Coordinator) transition(ctx context.Context, requestID, op string, fn transitionFunc) (model.CollectionRequest, model.Bucket, error) {
	d := c.deps()
	req, err := c.store.GetCollectionRequest(ctx, requestID)
	if err != nil {
		return model.CollectionRequest{}, model.Bucket{}, store.Wrap(op, err)
	}
	attempts := 0
	b, err := store.WithRetry(ctx, c.store, c.maxRetries, req.BucketID, func(b *model.Bucket) (*store.Mutation, error) {
		attempts++
		fresh, err := c.store.GetCollectionRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if err := fn(&fresh, b, d.now().UTC()); err != nil {
			return nil, err
		}
		req = fresh
		return &store.Mutation{UpdateCollection: &fresh}, nil
	})
	if attempts > 1 {
		dispatchConflicts.Add(float64(attempts - 1))
	}
	if err != nil {
		err = store.Wrap(op, err)
		monitoring.Report(op, err)
		return model.CollectionRequest{}, model.Bucket{}, err
	}
	return req, b, nil
}

// GetCollection returns a collection request by ID.
func (c *Coordinator) GetCollection(ctx context.Context, id string) (model.CollectionRequest, error) {
	r, err := c.store.GetCollectionRequest(ctx, id)
	if err != nil {
		return model.CollectionRequest{}, store.Wrap("failed to fetch collection request", err)
	}
	return r, nil
}

// ListCollections returns the requests matching f.
func (c *Coordinator) ListCollections(ctx context.Context, f store.CollectionFilter) ([]model.CollectionRequest, error) {
	rs, err := c.store.ListCollectionRequests(ctx, f)
	if err != nil {
		return nil, store.Wrap("failed to list collection requests", err)
	}
	return rs, nil
}

// SyncGauge sets buckets_assigned from the stored state. Call once at startup.
func (c *Coordinator) SyncGauge(ctx context.Context) error {
	bs, err := c.store.ListBuckets(ctx)
	if err != nil {
		return store.Wrap("failed to list buckets", err)
	}
	n := 0
	for _, b := range bs {
		if b.IsAssigned {
			n++
		}
	}
	bucketsAssigned.Set(float64(n))
	return nil
}

// History returns the audit records matching q.
func (c *Coordinator) History(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	recs, err := c.deps().audit.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.ErrUnavailable, "failed to read collection history", err)
	}
	return recs, nil
}

func (c *Coordinator) appendAudit(ctx context.Context, d sideEffects, rec audit.Record) {
	if err := d.audit.Append(ctx, rec); err != nil {
		c.logger.Warnf("dispatch: audit %s %s: %v", rec.Action, rec.RequestID, err)
	}
}

func requestLocation(b model.Bucket) model.RequestLocation {
	loc := model.RequestLocation{Address: b.Address}
	if b.Location != nil {
		loc.Latitude = b.Location.Latitude
		loc.Longitude = b.Location.Longitude
	}
	return loc
}
