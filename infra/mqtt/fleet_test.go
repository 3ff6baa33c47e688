package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/core/dispatch"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/infra/logger"
)

type published struct {
	topic   string
	qosKey  string
	payload []byte
}

// fakeBroker routes messages in process and matches single-level wildcards.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	published []published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]Handler)}
}

func (b *fakeBroker) Subscribe(topic, _ string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic, qosKey string, _ bool, payload []byte) error {
	b.mu.Lock()
	b.published = append(b.published, published{topic, qosKey, payload})
	b.mu.Unlock()
	b.emit(topic, payload)
	return nil
}

func (b *fakeBroker) emit(topic string, payload []byte) {
	b.mu.Lock()
	var hs []Handler
	for pattern, h := range b.handlers {
		if topicMatches(pattern, topic) {
			hs = append(hs, h)
		}
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

func (b *fakeBroker) sent() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func topicMatches(pattern, topic string) bool {
	p, t := strings.Split(pattern, "/"), strings.Split(topic, "/")
	if len(p) != len(t) {
		return false
	}
	for i := range p {
		if p[i] != "+" && p[i] != t[i] {
			return false
		}
	}
	return true
}

type fleetFixture struct {
	broker   *fakeBroker
	buckets  *bucket.Service
	presence *PresenceDirectory
}

func newFleetFixture(t *testing.T) fleetFixture {
	t.Helper()
	dispatch.ResetMetrics(nil)
	t.Cleanup(func() { dispatch.ResetMetrics(nil) })

	br := newFakeBroker()
	presence, err := NewPresenceDirectory(br, logger.NopLogger{})
	require.NoError(t, err)
	st := docstore.NewMemoryStore()
	coord, err := dispatch.NewCoordinator(st, presence, dispatch.FirstSelector{}, dispatch.Config{}, logger.NopLogger{})
	require.NoError(t, err)
	notifier, err := NewDriverNotifier(br)
	require.NoError(t, err)
	coord.SetNotifier(notifier)
	svc, err := bucket.NewService(st, coord, 0, logger.NopLogger{})
	require.NoError(t, err)
	listener, err := NewSensorListener(br, svc, 0, logger.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, listener.Start())
	return fleetFixture{broker: br, buckets: svc, presence: presence}
}

func (f fleetFixture) createBin(t *testing.T, code string) model.Bucket {
	t.Helper()
	up, err := f.buckets.Create(context.Background(), bucket.CreateInput{BucketID: code, Name: "Bin", UserID: "u1", Capacity: 100})
	require.NoError(t, err)
	return up.Bucket
}

func TestPresenceDirectory(t *testing.T) {
	f := newFleetFixture(t)
	f.broker.emit("drivers/d2/presence", []byte(`{"available":true}`))
	f.broker.emit("drivers/d1/presence", []byte(`{"available":true}`))
	f.broker.emit("drivers/d3/presence", []byte(`{"available":false}`))

	got, err := f.presence.AvailableDrivers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, got)

	f.broker.emit("drivers/d2/presence", nil)
	f.broker.emit("drivers/d1/presence", []byte(`not json`))
	got, _ = f.presence.AvailableDrivers(context.Background())
	assert.Equal(t, []string{"d1"}, got)
}

func TestAnnouncePresence(t *testing.T) {
	f := newFleetFixture(t)
	ctx := context.Background()
	require.NoError(t, AnnouncePresence(ctx, f.broker, "d4", true))
	drivers, err := f.presence.AvailableDrivers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d4"}, drivers)

	require.NoError(t, AnnouncePresence(ctx, f.broker, "d4", false))
	drivers, err = f.presence.AvailableDrivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, drivers)
	assert.Equal(t, "drivers/d4/presence", f.broker.sent()[0].topic)

	assert.Error(t, AnnouncePresence(ctx, f.broker, "", true))
}

func TestSensorFillDispatchesToDriver(t *testing.T) {
	f := newFleetFixture(t)
	f.broker.emit("drivers/d7/presence", []byte(`{"available":true}`))
	b := f.createBin(t, "123456")

	f.broker.emit("bins/123456/fill", []byte(`{"fill_percentage":95}`))

	stored, err := f.buckets.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 95.0, stored.FillPercentage)
	assert.True(t, stored.IsAssigned)

	var notes []published
	for _, p := range f.broker.sent() {
		if p.topic == "drivers/d7/collections" {
			notes = append(notes, p)
		}
	}
	require.Len(t, notes, 1)
	assert.Equal(t, QoSCollection, notes[0].qosKey)
	var a Assignment
	require.NoError(t, json.Unmarshal(notes[0].payload, &a))
	assert.Equal(t, b.ID, a.BucketID)
	assert.Equal(t, "123456", a.BucketCode)
	assert.NotEmpty(t, a.RequestID)
}

func TestSensorFillWithoutDrivers(t *testing.T) {
	f := newFleetFixture(t)
	b := f.createBin(t, "123456")

	f.broker.emit("bins/123456/fill", []byte(`{"fill_percentage":95}`))

	stored, err := f.buckets.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 95.0, stored.FillPercentage)
	assert.False(t, stored.IsAssigned)
	assert.Empty(t, f.broker.sent())
}

func TestSensorRejectsBadReadings(t *testing.T) {
	f := newFleetFixture(t)
	b := f.createBin(t, "123456")

	f.broker.emit("bins/123456/fill", []byte(`{"fill_percentage":140}`))
	f.broker.emit("bins/123456/fill", []byte(`{}`))
	f.broker.emit("bins/123456/fill", []byte(`garbage`))
	f.broker.emit("bins/999999/fill", []byte(`{"fill_percentage":40}`))
	f.broker.emit("bins/123456/health", []byte(`{"battery_level":50,"signal_strength":9,"sensor_uptime":99,"is_online":true}`))
	f.broker.emit("bins/123456/health", []byte(`{"battery":50}`))

	stored, err := f.buckets.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestSensorHealth(t *testing.T) {
	f := newFleetFixture(t)
	b := f.createBin(t, "123456")

	f.broker.emit("bins/123456/health", []byte(`{"battery_level":12.5,"signal_strength":2,"sensor_uptime":97,"is_online":false}`))

	stored, err := f.buckets.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.5, stored.Health.BatteryLevel)
	assert.Equal(t, 2, stored.Health.SignalStrength)
	assert.False(t, stored.Health.IsOnline)
}

func TestSensorAcceptsCBOR(t *testing.T) {
	f := newFleetFixture(t)
	b := f.createBin(t, "123456")

	fill, err := cbor.Marshal(map[string]any{"fill_percentage": 42.5})
	require.NoError(t, err)
	f.broker.emit("bins/123456/fill", fill)

	health, err := cbor.Marshal(map[string]any{
		"battery_level": 61.0, "signal_strength": 3, "sensor_uptime": 99.0, "is_online": true,
	})
	require.NoError(t, err)
	f.broker.emit("bins/123456/health", health)

	unknown, err := cbor.Marshal(map[string]any{"battery": 1.0})
	require.NoError(t, err)
	f.broker.emit("bins/123456/health", unknown)

	stored, err := f.buckets.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.5, stored.FillPercentage)
	assert.Equal(t, 61.0, stored.Health.BatteryLevel)
	assert.Equal(t, int64(3), stored.Version)
}

func TestNotifierRequiresDriver(t *testing.T) {
	n, err := NewDriverNotifier(newFakeBroker())
	require.NoError(t, err)
	assert.Error(t, n.NotifyAssignment(context.Background(), model.CollectionRequest{ID: "r1"}))
}

func TestConstructorsRejectNil(t *testing.T) {
	_, err := NewDriverNotifier(nil)
	assert.Error(t, err)
	_, err = NewPresenceDirectory(nil, nil)
	assert.Error(t, err)
	_, err = NewSensorListener(nil, nil, 0, nil)
	assert.Error(t, err)
}
