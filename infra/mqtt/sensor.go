package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/monitoring"
)

// BucketUpdater applies sensor readings. *bucket.Service satisfies it.
type BucketUpdater interface {
	GetByCode(ctx context.Context, code string) (model.Bucket, error)
	UpdateFill(ctx context.Context, id string, fill float64) (bucket.Update, error)
	UpdateHealth(ctx context.Context, id string, in bucket.HealthInput) (bucket.Update, error)
}

// FillReading is the payload of a bin fill report.
type FillReading struct {
	FillPercentage *float64 `json:"fill_percentage"`
}

var strictCBOR, _ = cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()

// decodeReading accepts a JSON object or its CBOR encoding. Field names are
// shared through the json tags. strict rejects unknown fields.
func decodeReading(payload []byte, v any, strict bool) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty payload")
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if strict {
			dec.DisallowUnknownFields()
		}
		return dec.Decode(v)
	}
	if strict {
		return strictCBOR.Unmarshal(payload, v)
	}
	return cbor.Unmarshal(payload, v)
}

// SensorListener feeds bin sensor readings into the bucket service. Sensors
// address bins by their 6-digit code and publish JSON or CBOR.
type SensorListener struct {
	broker  Broker
	buckets BucketUpdater
	logger  logger.Logger
	timeout time.Duration
}

// NewSensorListener creates a listener. Call Start to subscribe.
func NewSensorListener(b Broker, u BucketUpdater, timeout time.Duration, log logger.Logger) (*SensorListener, error) {
	if b == nil {
		return nil, fmt.Errorf("broker is nil")
	}
	if u == nil {
		return nil, fmt.Errorf("bucket updater is nil")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SensorListener{broker: b, buckets: u, logger: logger.OrNop(log), timeout: timeout}, nil
}

// Start subscribes to the fill and health topics.
func (l *SensorListener) Start() error {
	if err := l.broker.Subscribe(SensorFillTopic, QoSSensor, l.onFill); err != nil {
		return err
	}
	return l.broker.Subscribe(SensorHealthTopic, QoSSensor, l.onHealth)
}

func (l *SensorListener) onFill(topic string, payload []byte) {
	var r FillReading
	if err := decodeReading(payload, &r, false); err != nil || r.FillPercentage == nil {
		l.logger.Warnf("discarding fill reading on %s: malformed payload", topic)
		return
	}
	l.apply(topic, "fill", func(ctx context.Context, id string) (bucket.Update, error) {
		return l.buckets.UpdateFill(ctx, id, *r.FillPercentage)
	})
}

func (l *SensorListener) onHealth(topic string, payload []byte) {
	var h bucket.HealthInput
	if err := decodeReading(payload, &h, true); err != nil {
		l.logger.Warnf("discarding health reading on %s: %v", topic, err)
		return
	}
	l.apply(topic, "health", func(ctx context.Context, id string) (bucket.Update, error) {
		return l.buckets.UpdateHealth(ctx, id, h)
	})
}

func (l *SensorListener) apply(topic, kind string, fn func(context.Context, string) (bucket.Update, error)) {
	code, ok := topicSegment(topic)
	if !ok {
		l.logger.Warnf("discarding %s reading on unexpected topic %s", kind, topic)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	b, err := l.buckets.GetByCode(ctx, code)
	if err != nil {
		l.logger.Warnf("%s reading for %s: %v", kind, code, err)
		monitoring.Report("sensor "+kind, err)
		return
	}
	u, err := fn(ctx, b.ID)
	if err != nil {
		l.logger.Warnf("%s reading for %s rejected: %v", kind, code, err)
		monitoring.Report("sensor "+kind, err)
		return
	}
	if u.DispatchErr != nil {
		l.logger.Errorf("dispatch after %s reading for %s: %v", kind, code, u.DispatchErr)
	}
	if u.Collection != nil {
		l.logger.Infof("bucket %s assigned to driver %s", code, u.Collection.DriverID)
	}
}
