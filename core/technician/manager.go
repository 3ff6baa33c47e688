// Package technician manages maintenance tickets against bucket sensors.
// A bucket carries at most one open ticket; tickets never touch the
// bucket's fill or assignment state.
package technician

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/events"
	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/metrics"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/monitoring"
	"github.com/kilianp07/wastefleet/core/store"
	"github.com/kilianp07/wastefleet/internal/eventbus"
)

const (
	opRequest = "failed to request technician"
	opAssign  = "failed to assign technician"
	opResolve = "failed to resolve technician request"
	opGet     = "failed to fetch technician request"
	opList    = "failed to list technician requests"
)

// Manager serialises ticket transitions per bucket.
type Manager struct {
	store  store.Store
	locks  *keyedMutex
	logger logger.Logger

	mu      sync.RWMutex
	metrics metrics.MetricsSink
	bus     *eventbus.TypedBus[events.Event]
	now     func() time.Time
}

// NewManager creates a technician request manager.
func NewManager(st store.Store, log logger.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("technician: nil store provided to NewManager")
	}
	return &Manager{
		store:   st,
		locks:   newKeyedMutex(),
		logger:  logger.OrNop(log),
		metrics: metrics.NopSink{},
		now:     time.Now,
	}, nil
}

// SetMetricsSink configures the sink receiving ticket transitions.
func (m *Manager) SetMetricsSink(s metrics.MetricsSink) {
	m.mu.Lock()
	m.metrics = metrics.OrNop(s)
	m.mu.Unlock()
}

// SetEventBus configures the bus receiving ticket events.
func (m *Manager) SetEventBus(b *eventbus.TypedBus[events.Event]) {
	m.mu.Lock()
	m.bus = b
	m.mu.Unlock()
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Manager) clock() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().UTC()
}

// RequestService opens a ticket for bucketID.
func (m *Manager) RequestService(ctx context.Context, bucketID, reason string) (model.TechnicianRequest, error) {
	if strings.TrimSpace(bucketID) == "" {
		return model.TechnicianRequest{}, errs.New(errs.ErrInvalidInput, opRequest, "bucket id is required")
	}
	unlock := m.locks.Lock(bucketID)
	defer unlock()

	if _, err := m.store.GetBucket(ctx, bucketID); err != nil {
		return model.TechnicianRequest{}, m.fail(opRequest, err)
	}
	open, err := m.store.ListTechnicianRequests(ctx, store.TechnicianFilter{BucketID: bucketID, OpenOnly: true})
	if err != nil {
		return model.TechnicianRequest{}, m.fail(opRequest, err)
	}
	if len(open) > 0 {
		return model.TechnicianRequest{}, errs.New(errs.ErrConflict, opRequest,
			"bucket %s already has open request %s", bucketID, open[0].ID)
	}

	req := model.TechnicianRequest{
		ID:        uuid.NewString(),
		BucketID:  bucketID,
		Reason:    strings.TrimSpace(reason),
		Status:    model.TechnicianPending,
		CreatedAt: m.clock(),
	}
	id, err := m.store.CreateTechnicianRequest(ctx, req)
	if err != nil {
		return model.TechnicianRequest{}, m.fail(opRequest, err)
	}
	req.ID = id
	m.logger.Infow("technician requested", map[string]any{"request_id": id, "bucket_id": bucketID})
	m.emit(req)
	return req, nil
}

// Assign hands a pending ticket to a technician.
func (m *Manager) Assign(ctx context.Context, requestID, technicianID string) (model.TechnicianRequest, error) {
	if strings.TrimSpace(technicianID) == "" {
		return model.TechnicianRequest{}, errs.New(errs.ErrInvalidInput, opAssign, "technician id is required")
	}
	return m.transition(ctx, requestID, opAssign, func(r *model.TechnicianRequest, now time.Time) error {
		if r.Status != model.TechnicianPending {
			return errs.New(errs.ErrInvalidState, "", "request %s is %s, want %s", r.ID, r.Status, model.TechnicianPending)
		}
		r.Status = model.TechnicianAssigned
		r.TechnicianID = technicianID
		r.AssignedAt = &now
		return nil
	})
}

// Resolve closes an assigned ticket.
func (m *Manager) Resolve(ctx context.Context, requestID string) (model.TechnicianRequest, error) {
	return m.transition(ctx, requestID, opResolve, func(r *model.TechnicianRequest, now time.Time) error {
		if r.Status != model.TechnicianAssigned {
			return errs.New(errs.ErrInvalidState, "", "request %s is %s, want %s", r.ID, r.Status, model.TechnicianAssigned)
		}
		r.Status = model.TechnicianResolved
		r.ResolvedAt = &now
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, requestID, op string, fn func(*model.TechnicianRequest, time.Time) error) (model.TechnicianRequest, error) {
	r, err := m.store.GetTechnicianRequest(ctx, requestID)
	if err != nil {
		return model.TechnicianRequest{}, m.fail(op, err)
	}
	unlock := m.locks.Lock(r.BucketID)
	defer unlock()

	// re-read under the bucket lock
	r, err = m.store.GetTechnicianRequest(ctx, requestID)
	if err != nil {
		return model.TechnicianRequest{}, m.fail(op, err)
	}
	if err := fn(&r, m.clock()); err != nil {
		return model.TechnicianRequest{}, errs.Wrap(errs.ErrInvalidState, op, err)
	}
	if err := m.store.UpdateTechnicianRequest(ctx, r); err != nil {
		return model.TechnicianRequest{}, m.fail(op, err)
	}
	m.logger.Infow("technician request "+string(r.Status), map[string]any{
		"request_id":    r.ID,
		"bucket_id":     r.BucketID,
		"technician_id": r.TechnicianID,
	})
	m.emit(r)
	return r, nil
}

// Get returns one ticket.
func (m *Manager) Get(ctx context.Context, id string) (model.TechnicianRequest, error) {
	r, err := m.store.GetTechnicianRequest(ctx, id)
	if err != nil {
		return model.TechnicianRequest{}, store.Wrap(opGet, err)
	}
	return r, nil
}

// ListOpen returns pending and assigned tickets, for one bucket when
// bucketID is set.
func (m *Manager) ListOpen(ctx context.Context, bucketID string) ([]model.TechnicianRequest, error) {
	rs, err := m.store.ListTechnicianRequests(ctx, store.TechnicianFilter{BucketID: bucketID, OpenOnly: true})
	if err != nil {
		return nil, m.fail(opList, err)
	}
	return rs, nil
}

func (m *Manager) emit(r model.TechnicianRequest) {
	m.mu.RLock()
	bus, sink := m.bus, m.metrics
	m.mu.RUnlock()
	if bus != nil {
		bus.Publish(events.TechnicianEvent{Request: r})
	}
	if rec, ok := sink.(metrics.TechnicianRecorder); ok {
		if err := rec.RecordTechnician(metrics.TechnicianEvent{
			RequestID: r.ID,
			BucketID:  r.BucketID,
			Status:    string(r.Status),
			Time:      m.clock(),
		}); err != nil {
			m.logger.Warnf("technician: record metrics: %v", err)
		}
	}
}

func (m *Manager) fail(op string, err error) error {
	err = store.Wrap(op, err)
	monitoring.Report(op, err)
	return err
}
