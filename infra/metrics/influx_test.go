package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/wastefleet/core/metrics"
	"github.com/kilianp07/wastefleet/core/model"
)

type capture struct {
	mu     sync.Mutex
	bodies []string
}

func (c *capture) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, strings.TrimSpace(string(data)))
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordBucketState(t *testing.T) {
	c := &capture{}
	srv := c.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "fleet"})
	defer sink.Close()

	now := time.Now()
	b := model.Bucket{ID: "b1", BucketID: "123456", UserID: "u1", FillPercentage: 91.23456,
		IsAssigned: true, Health: model.Health{IsOnline: true, BatteryLevel: 77, SignalStrength: 4}}
	require.NoError(t, sink.RecordBucketState(coremetrics.BucketStateEvent{
		Bucket: b, Status: "full", Context: "fill", Component: "bucket", Time: now,
	}))

	exp := write.NewPointWithMeasurement("bucket_state").
		AddTag("bucket_id", "b1").
		AddTag("code", "123456").
		AddTag("user_id", "u1").
		AddTag("component", "bucket").
		AddTag("context", "fill").
		AddField("fill", 91.235).
		AddField("status", "full").
		AddField("assigned", true).
		AddField("online", true).
		AddField("battery", 77.0).
		AddField("signal", 4).
		SetTime(now)
	require.Len(t, c.bodies, 1)
	assert.Equal(t, line(exp), c.bodies[0])
}

func TestInfluxSink_RecordDispatchAndCollection(t *testing.T) {
	c := &capture{}
	srv := c.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "tok", Org: "org", Bucket: "fleet"})
	defer sink.Close()

	now := time.Now()
	require.NoError(t, sink.RecordDispatch(coremetrics.DispatchEvent{
		RequestID: "r1", BucketID: "b1", DriverID: "d1", Fill: 95, Attempts: 2, Latency: 1500 * time.Microsecond, Time: now,
	}))
	require.NoError(t, sink.RecordCollection(coremetrics.CollectionEvent{
		RequestID: "r1", BucketID: "b1", DriverID: "d1", Turnaround: 90 * time.Second, Time: now,
	}))
	require.NoError(t, sink.RecordTechnician(coremetrics.TechnicianEvent{
		RequestID: "t1", BucketID: "b1", Status: "pending", Time: now,
	}))

	d := write.NewPointWithMeasurement("collection_dispatch").
		AddTag("bucket_id", "b1").
		AddTag("driver_id", "d1").
		AddTag("request_id", "r1").
		AddField("fill", 95.0).
		AddField("attempts", 2).
		AddField("latency_ms", 1.5).
		SetTime(now)
	col := write.NewPointWithMeasurement("collection_completed").
		AddTag("bucket_id", "b1").
		AddTag("driver_id", "d1").
		AddTag("request_id", "r1").
		AddField("turnaround_s", 90.0).
		SetTime(now)
	tech := write.NewPointWithMeasurement("technician_request").
		AddTag("bucket_id", "b1").
		AddTag("request_id", "t1").
		AddTag("status", "pending").
		AddField("count", 1).
		SetTime(now)
	assert.Equal(t, []string{line(d), line(col), line(tech)}, c.bodies)
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "fleet"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}
