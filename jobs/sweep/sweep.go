// Package sweep periodically re-runs dispatch evaluation for full buckets
// that are still unassigned, typically because no driver was available when
// they crossed the threshold.
package sweep

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/kilianp07/wastefleet/core/evaluator"
	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/monitoring"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// Lister returns every stored bucket.
type Lister interface {
	ListBuckets(ctx context.Context) ([]model.Bucket, error)
}

// Evaluator runs dispatch evaluation for one bucket.
type Evaluator interface {
	Evaluate(ctx context.Context, bucketID string) (*model.CollectionRequest, error)
}

// GaugeSyncer realigns the assigned-buckets gauge with the store.
type GaugeSyncer interface {
	SyncGauge(ctx context.Context) error
}

// Result summarises one sweep.
type Result struct {
	Eligible int
	Assigned int
	Failed   int
}

// Sweeper re-evaluates eligible buckets.
type Sweeper struct {
	buckets Lister
	eval    Evaluator
	logger  logger.Logger

	// mu prevents overlapping runs when a sweep outlasts its interval.
	mu sync.Mutex
}

// New returns a Sweeper.
func New(buckets Lister, eval Evaluator, log logger.Logger) (*Sweeper, error) {
	if buckets == nil || eval == nil {
		return nil, fmt.Errorf("sweep: nil parameter provided to New")
	}
	return &Sweeper{buckets: buckets, eval: eval, logger: logger.OrNop(log)}, nil
}

// Run evaluates every eligible bucket once. Per-bucket failures are counted
// and logged; only a failure to list buckets is returned.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		s.logger.Debugf("sweep: previous run still active, skipping")
		return Result{}, nil
	}
	defer s.mu.Unlock()

	bs, err := s.buckets.ListBuckets(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sweep: list buckets: %w", err)
	}
	var res Result
	for _, b := range bs {
		if !evaluator.Eligible(b) {
			continue
		}
		res.Eligible++
		req, err := s.eval.Evaluate(ctx, b.ID)
		switch {
		case err != nil:
			res.Failed++
			s.logger.Warnf("sweep: evaluate %s: %v", b.ID, err)
		case req != nil:
			res.Assigned++
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	if res.Eligible > 0 {
		s.logger.Infof("sweep: %d eligible, %d assigned, %d failed", res.Eligible, res.Assigned, res.Failed)
	}
	if g, ok := s.eval.(GaugeSyncer); ok {
		if err := g.SyncGauge(ctx); err != nil {
			s.logger.Warnf("sweep: sync gauge: %v", err)
		}
	}
	return res, nil
}

// Start schedules Run on spec until ctx is cancelled. The returned channel
// is closed once the scheduler has stopped.
func (s *Sweeper) Start(ctx context.Context, spec string) (<-chan struct{}, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		defer monitoring.Recover()
		if _, err := s.Run(ctx); err != nil {
			s.logger.Errorf("%v", err)
			monitoring.CaptureException(err, map[string]string{"component": "sweep"})
		}
	}); err != nil {
		return nil, fmt.Errorf("sweep: schedule %q: %w", spec, err)
	}
	c.Start()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		close(done)
	}()
	return done, nil
}
