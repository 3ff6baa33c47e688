package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastefleet/config"
	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/core/dispatch/audit"
	"github.com/kilianp07/wastefleet/core/factory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "fleet.db")
	cfg.Dispatch.Drivers = []string{"d1"}
	cfg.Dispatch.AuditPath = filepath.Join(t.TempDir(), "audit", "collections.jsonl")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Jobs.SweepSchedule = "off"
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewWiresServices(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	up, err := svc.Buckets.Create(ctx, bucket.CreateInput{BucketID: "123456", Name: "a", UserID: "u", Capacity: 10})
	require.NoError(t, err)
	up, err = svc.Buckets.UpdateFill(ctx, up.Bucket.ID, 92)
	require.NoError(t, err)
	require.NotNil(t, up.Collection)
	assert.Equal(t, "d1", up.Collection.DriverID)

	hist, err := svc.Coordinator.History(ctx, audit.Query{Action: audit.ActionAssigned})
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/buckets/" + up.Bucket.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRejectsBadSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "statsd"}}
	_, err := New(cfg)
	assert.ErrorContains(t, err, "statsd")
}

func TestNewFailsCleanlyWithoutBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "tcp://127.0.0.1:1"
	cfg.MQTT.ClientID = "wastefleet-test"
	svc, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.ErrorContains(t, err, "mqtt client")

	// The failed attempt released the store and audit log.
	cfg.MQTT.Enabled = false
	svc, err = New(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Close())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.SweepSchedule = "@every 1h"
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

func TestRunReportsListenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "256.0.0.1:bad"
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	err = svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "http server"))
}
