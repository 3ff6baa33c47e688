package bucket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastefleet/core/dispatch"
	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/events"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/store"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/infra/logger"
	"github.com/kilianp07/wastefleet/internal/eventbus"
)

type fixture struct {
	store *docstore.MemoryStore
	coord *dispatch.Coordinator
	svc   *Service
}

func newFixture(t *testing.T, drivers ...string) fixture {
	t.Helper()
	dispatch.ResetMetrics(nil)
	t.Cleanup(func() { dispatch.ResetMetrics(nil) })
	st := docstore.NewMemoryStore()
	coord, err := dispatch.NewCoordinator(st, dispatch.StaticDirectory(drivers), dispatch.FirstSelector{}, dispatch.Config{}, logger.NopLogger{})
	require.NoError(t, err)
	svc, err := NewService(st, coord, 0, logger.NopLogger{})
	require.NoError(t, err)
	return fixture{store: st, coord: coord, svc: svc}
}

func ptr(f float64) *float64 { return &f }

func (f fixture) create(t *testing.T, code string, fill float64) model.Bucket {
	t.Helper()
	up, err := f.svc.Create(context.Background(), CreateInput{
		BucketID:       code,
		Name:           "Bin " + code,
		UserID:         "u1",
		Capacity:       100,
		FillPercentage: fill,
		Latitude:       ptr(48.85),
		Longitude:      ptr(2.35),
	})
	require.NoError(t, err)
	return up.Bucket
}

func TestNewService_NilParams(t *testing.T) {
	_, err := NewService(nil, nil, 0, nil)
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 10)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, b.Health.IsOnline)
	assert.Equal(t, 5, b.Health.SignalStrength)
	require.NotNil(t, b.Location)
	assert.False(t, b.CreatedAt.IsZero())

	stored, err := f.svc.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456", stored.BucketID)
}

func TestCreate_DuplicateCode(t *testing.T) {
	f := newFixture(t, "d1")
	f.create(t, "123456", 0)
	_, err := f.svc.Create(context.Background(), CreateInput{BucketID: "123456", Name: "dup", UserID: "u2", Capacity: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConflict)

	unique, err := f.svc.IsBucketIDUnique(context.Background(), "123456")
	require.NoError(t, err)
	assert.False(t, unique)
	unique, err = f.svc.IsBucketIDUnique(context.Background(), "654321")
	require.NoError(t, err)
	assert.True(t, unique)
}

func TestCreate_InvalidInput(t *testing.T) {
	f := newFixture(t, "d1")
	cases := map[string]CreateInput{
		"short code":    {BucketID: "12345", Name: "x", UserID: "u", Capacity: 1},
		"letters":       {BucketID: "12a456", Name: "x", UserID: "u", Capacity: 1},
		"signed":        {BucketID: "-12345", Name: "x", UserID: "u", Capacity: 1},
		"neg capacity":  {BucketID: "123456", Name: "x", UserID: "u", Capacity: -5},
		"fill":          {BucketID: "123456", Name: "x", UserID: "u", Capacity: 1, FillPercentage: 101},
		"no owner":      {BucketID: "123456", Name: "x", Capacity: 1},
		"half location": {BucketID: "123456", Name: "x", UserID: "u", Capacity: 1, Latitude: ptr(1)},
		"latitude":      {BucketID: "123456", Name: "x", UserID: "u", Capacity: 1, Latitude: ptr(91), Longitude: ptr(0)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}
	bs, err := f.store.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bs)

	_, err = f.svc.IsBucketIDUnique(context.Background(), "1234")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCreate_DefaultCapacity(t *testing.T) {
	f := newFixture(t, "d1")
	up, err := f.svc.Create(context.Background(), CreateInput{BucketID: "123456", Name: "Kiosk", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, up.Bucket.Capacity)

	stored, err := f.svc.Get(context.Background(), up.Bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.Capacity)
}

func TestCreate_FullBucketIsDispatched(t *testing.T) {
	f := newFixture(t, "d1")
	up, err := f.svc.Create(context.Background(), CreateInput{BucketID: "111111", Name: "x", UserID: "u", Capacity: 100, FillPercentage: 95})
	require.NoError(t, err)
	require.NotNil(t, up.Collection)
	assert.True(t, up.Bucket.IsAssigned)
}

func TestUpdateFill(t *testing.T) {
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 10)
	bus := eventbus.NewTyped[events.Event]()
	sub := bus.Subscribe()
	f.svc.SetEventBus(bus)

	up, err := f.svc.UpdateFill(context.Background(), b.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, 60.0, up.Bucket.FillPercentage)
	assert.Nil(t, up.Collection)
	ev := (<-sub).(events.FillEvent)
	assert.Equal(t, 10.0, ev.Previous)
	assert.Equal(t, 60.0, ev.Current)

	for _, bad := range []float64{-1, 100.5} {
		_, err := f.svc.UpdateFill(context.Background(), b.ID, bad)
		assert.ErrorIs(t, err, errs.ErrInvalidInput)
	}
	_, err = f.svc.UpdateFill(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	up, err = f.svc.UpdateFill(context.Background(), b.ID, 90)
	require.NoError(t, err)
	require.NotNil(t, up.Collection)
	assert.Equal(t, model.CollectionPending, up.Collection.Status)
	assert.True(t, up.Bucket.IsAssigned)
}

func TestUpdateFill_WhileAssignedKeepsAssignment(t *testing.T) {
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 95)

	up, err := f.svc.UpdateFill(context.Background(), b.ID, 40)
	require.NoError(t, err)
	assert.True(t, up.Bucket.IsAssigned)
	assert.Nil(t, up.Collection)

	open, err := f.store.ListCollectionRequests(context.Background(), store.CollectionFilter{BucketID: b.ID, OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestUpdateFill_NoDriversStillCommits(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, "123456", 10)

	up, err := f.svc.UpdateFill(context.Background(), b.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, 99.0, up.Bucket.FillPercentage)
	assert.ErrorIs(t, up.DispatchErr, errs.ErrUnavailable)
	assert.False(t, up.Bucket.IsAssigned)
}

func TestUpdateHealth(t *testing.T) {
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 10)

	_, err := f.svc.UpdateHealth(context.Background(), b.ID, HealthInput{SensorUptime: 90, BatteryLevel: 50, SignalStrength: 6, IsOnline: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	stored, err := f.store.GetBucket(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Version, stored.Version, "rejected reading must not write")
	assert.Equal(t, 100.0, stored.Health.BatteryLevel)

	up, err := f.svc.UpdateHealth(context.Background(), b.ID, HealthInput{SensorUptime: 90, BatteryLevel: 15, SignalStrength: 2, IsOnline: false})
	require.NoError(t, err)
	assert.Equal(t, model.Health{SensorUptime: 90, BatteryLevel: 15, SignalStrength: 2, IsOnline: false}, up.Bucket.Health)
}

func TestUpdateHealth_BackOnlineArmsDispatch(t *testing.T) {
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 10)
	_, err := f.svc.UpdateHealth(context.Background(), b.ID, HealthInput{SensorUptime: 50, BatteryLevel: 50, SignalStrength: 3})
	require.NoError(t, err)
	up, err := f.svc.UpdateFill(context.Background(), b.ID, 95)
	require.NoError(t, err)
	assert.Nil(t, up.Collection, "offline bins are never dispatched")

	up, err = f.svc.UpdateHealth(context.Background(), b.ID, HealthInput{SensorUptime: 50, BatteryLevel: 50, SignalStrength: 3, IsOnline: true})
	require.NoError(t, err)
	require.NotNil(t, up.Collection)
}

func TestAddTrash_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 85)

	res, err := f.svc.AddTrash(ctx, TrashInput{BucketID: b.ID, TrashType: "organic", Weight: 10})
	require.NoError(t, err)
	assert.Equal(t, 95.0, res.Bucket.FillPercentage)
	assert.Equal(t, model.TrashAdded, res.Item.Status)
	assert.Equal(t, "u1", res.Item.UserID)
	require.NotNil(t, res.Collection)
	assert.True(t, res.Bucket.IsAssigned)

	open, err := f.store.ListCollectionRequests(ctx, store.CollectionFilter{BucketID: b.ID, OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.CollectionPending, open[0].Status)

	_, err = f.coord.MarkCollected(ctx, open[0].ID)
	require.NoError(t, err)
	after, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, after.FillPercentage)
	assert.False(t, after.IsAssigned)
}

func TestAddTrash_CapsAndValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t, "123456", 90)

	res, err := f.svc.AddTrash(ctx, TrashInput{BucketID: b.ID, UserID: "u9", TrashType: "recyclable", Weight: 20})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Bucket.FillPercentage)
	assert.Equal(t, "u9", res.Item.UserID)

	for _, in := range []TrashInput{
		{BucketID: b.ID, TrashType: "glass", Weight: 1},
		{BucketID: b.ID, TrashType: "organic", Weight: 0},
		{BucketID: b.ID, TrashType: "organic", Weight: -2},
	} {
		_, err := f.svc.AddTrash(ctx, in)
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrInvalidInput)
		assert.Contains(t, err.Error(), "failed to add trash")
	}

	_, err = f.svc.AddTrash(ctx, TrashInput{BucketID: "missing", TrashType: "organic", Weight: 1})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRemoveTrash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 10)
	res, err := f.svc.AddTrash(ctx, TrashInput{BucketID: b.ID, TrashType: "non-recyclable", Weight: 5})
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveTrash(ctx, res.Item.ID))
	items, err := f.store.ListTrashByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.TrashRemoved, items[0].Status)
	assert.NotNil(t, items[0].RemovedAt)
	after, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 15.0, after.FillPercentage)

	err = f.svc.RemoveTrash(ctx, res.Item.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Contains(t, err.Error(), "failed to delete trash item")
}

func TestDelete_ReferentialIntegrity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "d1")
	b := f.create(t, "123456", 95)

	err := f.svc.Delete(ctx, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConflict)

	open, err := f.store.ListCollectionRequests(ctx, store.CollectionFilter{BucketID: b.ID, OpenOnly: true})
	require.NoError(t, err)
	_, err = f.coord.MarkCollected(ctx, open[0].ID)
	require.NoError(t, err)

	_, err = f.store.CreateTechnicianRequest(ctx, model.TechnicianRequest{BucketID: b.ID, Status: model.TechnicianAssigned})
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Delete(ctx, b.ID), errs.ErrConflict)

	other := f.create(t, "222222", 0)
	require.NoError(t, f.svc.Delete(ctx, other.ID))
	_, err = f.svc.Get(ctx, other.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, other.ID), errs.ErrNotFound)
}

func TestListByOwner(t *testing.T) {
	f := newFixture(t)
	f.create(t, "123456", 0)
	f.create(t, "654321", 0)
	bs, err := f.svc.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, bs, 2)

	_, err = f.svc.ListByOwner(context.Background(), "")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestGetByCode(t *testing.T) {
	f := newFixture(t, "d1")
	b := f.create(t, "654321", 0)

	got, err := f.svc.GetByCode(context.Background(), "654321")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.svc.GetByCode(context.Background(), "000000")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.svc.GetByCode(context.Background(), "12ab")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
