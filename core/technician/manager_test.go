package technician

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/events"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/infra/logger"
	"github.com/kilianp07/wastefleet/internal/eventbus"
)

func setup(t *testing.T) (*Manager, *docstore.MemoryStore) {
	t.Helper()
	st := docstore.NewMemoryStore()
	require.NoError(t, st.CreateBucket(context.Background(), model.Bucket{
		ID: "b1", BucketID: "123456", Capacity: 100, FillPercentage: 42, IsAssigned: true,
	}))
	m, err := NewManager(st, logger.NopLogger{})
	require.NoError(t, err)
	return m, st
}

func TestRequestService(t *testing.T) {
	ctx := context.Background()
	m, _ := setup(t)
	bus := eventbus.NewTyped[events.Event]()
	sub := bus.Subscribe()
	m.SetEventBus(bus)

	req, err := m.RequestService(ctx, "b1", "  battery swelling ")
	require.NoError(t, err)
	assert.Equal(t, model.TechnicianPending, req.Status)
	assert.Equal(t, "battery swelling", req.Reason)
	assert.Equal(t, "technician.pending", (<-sub).Name())

	_, err = m.RequestService(ctx, "b1", "again")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConflict)

	_, err = m.RequestService(ctx, "nope", "")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = m.RequestService(ctx, "", "")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestRequestService_ConcurrentSingleOpen(t *testing.T) {
	ctx := context.Background()
	m, _ := setup(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RequestService(ctx, "b1", "sensor offline")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, errs.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, conflicts)
	assert.Zero(t, m.locks.size())

	open, err := m.ListOpen(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	m, st := setup(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	req, err := m.RequestService(ctx, "b1", "lid stuck")
	require.NoError(t, err)

	_, err = m.Resolve(ctx, req.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	_, err = m.Assign(ctx, req.ID, "")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	assigned, err := m.Assign(ctx, req.ID, "tech-7")
	require.NoError(t, err)
	assert.Equal(t, model.TechnicianAssigned, assigned.Status)
	assert.Equal(t, "tech-7", assigned.TechnicianID)
	require.NotNil(t, assigned.AssignedAt)

	_, err = m.Assign(ctx, req.ID, "tech-8")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Contains(t, err.Error(), "failed to assign technician")

	resolved, err := m.Resolve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TechnicianResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = m.Resolve(ctx, req.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	b, err := st.GetBucket(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, b.FillPercentage)
	assert.True(t, b.IsAssigned)
	assert.Equal(t, int64(1), b.Version)

	open, err := m.ListOpen(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)

	// a resolved ticket frees the bucket for a new one
	_, err = m.RequestService(ctx, "b1", "again")
	require.NoError(t, err)

	got, err := m.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TechnicianResolved, got.Status)
	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = m.Assign(ctx, "missing", "tech")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different keys must not block each other")
	}

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("same key acquired twice")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
