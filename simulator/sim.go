package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/monitoring"
	"github.com/kilianp07/wastefleet/infra/mqtt"
)

// Payload encodings understood by the sensor listener.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Config tunes a simulation run.
type Config struct {
	Interval time.Duration
	Encoding string
	Profile  FillProfile
	Seed     int64
}

// Simulator publishes bin readings and plays the drivers that receive the
// resulting collection assignments.
type Simulator struct {
	broker   mqtt.Broker
	bins     map[string]*SimulatedBin
	codes    []string
	drivers  []string
	strategy CollectStrategy
	complete Completer
	cfg      Config
	logger   logger.Logger
	rng      *rand.Rand
	now      func() time.Time

	mu        sync.Mutex
	stopping  bool
	inflight  sync.WaitGroup
	collected atomic.Int64
	dropped   atomic.Int64
}

// New wires a simulator. Bins are addressed by code, so codes must be unique.
func New(b mqtt.Broker, bins []*SimulatedBin, drivers []string, strat CollectStrategy, complete Completer, cfg Config, log logger.Logger) (*Simulator, error) {
	if b == nil {
		return nil, fmt.Errorf("broker is nil")
	}
	if strat == nil || complete == nil {
		return nil, fmt.Errorf("collect strategy and completer are required")
	}
	switch cfg.Encoding {
	case "":
		cfg.Encoding = EncodingJSON
	case EncodingJSON, EncodingCBOR:
	default:
		return nil, fmt.Errorf("unknown encoding %q", cfg.Encoding)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	s := &Simulator{
		broker:   b,
		bins:     make(map[string]*SimulatedBin, len(bins)),
		drivers:  drivers,
		strategy: strat,
		complete: complete,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		now:      time.Now,
	}
	for _, bin := range bins {
		if _, dup := s.bins[bin.Code]; dup {
			return nil, fmt.Errorf("duplicate bin code %s", bin.Code)
		}
		s.bins[bin.Code] = bin
		s.codes = append(s.codes, bin.Code)
	}
	sort.Strings(s.codes)
	return s, nil
}

// Run announces the drivers, then publishes a reading per bin every
// interval until ctx is done. Drivers are withdrawn on the way out.
func (s *Simulator) Run(ctx context.Context) error {
	for _, d := range s.drivers {
		if err := mqtt.AnnouncePresence(ctx, s.broker, d, true); err != nil {
			return fmt.Errorf("announce %s: %w", d, err)
		}
	}
	if len(s.drivers) > 0 {
		if err := s.broker.Subscribe(mqtt.DriverCollectionsTopic, mqtt.QoSCollection, s.onAssignment(ctx)); err != nil {
			return err
		}
	}
	s.logger.Infof("simulating %d bins and %d drivers every %s", len(s.codes), len(s.drivers), s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warnf("tick: %v", err)
		}
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// Tick publishes one reading for every bin. Offline bins report health only.
func (s *Simulator) Tick(ctx context.Context) error {
	factor := s.cfg.Profile.Factor(s.now().Hour())
	var errs []error
	for _, code := range s.codes {
		r := s.bins[code].Step(s.rng, factor)
		if r.Online {
			fill := r.Fill
			if err := s.publish(ctx, mqtt.FillTopic(code), mqtt.FillReading{FillPercentage: &fill}); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.publish(ctx, mqtt.HealthTopic(code), r.Health); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Simulator) publish(ctx context.Context, topic string, v any) error {
	var (
		payload []byte
		err     error
	)
	if s.cfg.Encoding == EncodingCBOR {
		payload, err = cbor.Marshal(v)
	} else {
		payload, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return s.broker.Publish(ctx, topic, mqtt.QoSSensor, false, payload)
}

func (s *Simulator) onAssignment(ctx context.Context) mqtt.Handler {
	return func(topic string, payload []byte) {
		driver, ok := mqtt.TopicSegment(topic)
		if !ok {
			return
		}
		var a mqtt.Assignment
		if err := json.Unmarshal(payload, &a); err != nil {
			s.logger.Warnf("%s: decode assignment: %v", driver, err)
			return
		}
		bin, ok := s.bins[a.BucketCode]
		if !ok {
			s.logger.Debugf("%s: assignment %s for unknown bin %q", driver, a.RequestID, a.BucketCode)
			return
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.inflight.Done()
			defer monitoring.Recover()
			err := s.strategy.Collect(ctx, a, s.complete)
			switch {
			case errors.Is(err, ErrDropped):
				s.dropped.Add(1)
				s.logger.Infof("%s ignored request %s for bin %s", driver, a.RequestID, a.BucketCode)
			case err != nil:
				if ctx.Err() == nil {
					s.logger.Warnf("%s: collect %s: %v", driver, a.RequestID, err)
				}
			default:
				bin.Empty()
				s.collected.Add(1)
				s.logger.Infow("bin collected", map[string]any{
					"driver": driver, "bin": a.BucketCode, "request": a.RequestID,
				})
			}
		}()
	}
}

func (s *Simulator) shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.inflight.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, d := range s.drivers {
		if err := mqtt.AnnouncePresence(ctx, s.broker, d, false); err != nil {
			s.logger.Warnf("withdraw %s: %v", d, err)
		}
	}
	s.logger.Infof("simulation stopped: %d collected, %d ignored", s.collected.Load(), s.dropped.Load())
}

// Stats reports how many assignments the drivers completed and ignored.
func (s *Simulator) Stats() (collected, dropped int64) {
	return s.collected.Load(), s.dropped.Load()
}
