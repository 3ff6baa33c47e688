package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/wastefleet/core/metrics"
	"github.com/kilianp07/wastefleet/infra/logger"
)

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes bucket time series to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings InfluxDB and returns a NopSink when the
// health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordBucketState writes a bucket snapshot.
func (s *InfluxSink) RecordBucketState(ev coremetrics.BucketStateEvent) error {
	b := ev.Bucket
	p := write.NewPointWithMeasurement("bucket_state").
		AddTag("bucket_id", b.ID).
		AddTag("code", b.BucketID).
		AddTag("user_id", b.UserID)
	if ev.Component != "" {
		p.AddTag("component", ev.Component)
	}
	p = p.AddTag("context", ev.Context).
		AddField("fill", round3(b.FillPercentage)).
		AddField("status", ev.Status).
		AddField("assigned", b.IsAssigned).
		AddField("online", b.Health.IsOnline).
		AddField("battery", round3(b.Health.BatteryLevel)).
		AddField("signal", b.Health.SignalStrength).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordDispatch writes a driver assignment.
func (s *InfluxSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	p := write.NewPointWithMeasurement("collection_dispatch").
		AddTag("bucket_id", ev.BucketID).
		AddTag("driver_id", ev.DriverID).
		AddTag("request_id", ev.RequestID).
		AddField("fill", round3(ev.Fill)).
		AddField("attempts", ev.Attempts).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordCollection writes a completed collection.
func (s *InfluxSink) RecordCollection(ev coremetrics.CollectionEvent) error {
	p := write.NewPointWithMeasurement("collection_completed").
		AddTag("bucket_id", ev.BucketID).
		AddTag("driver_id", ev.DriverID).
		AddTag("request_id", ev.RequestID).
		AddField("turnaround_s", round3(ev.Turnaround.Seconds())).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTechnician writes a technician request transition.
func (s *InfluxSink) RecordTechnician(ev coremetrics.TechnicianEvent) error {
	p := write.NewPointWithMeasurement("technician_request").
		AddTag("bucket_id", ev.BucketID).
		AddTag("request_id", ev.RequestID).
		AddTag("status", ev.Status).
		AddField("count", 1).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
