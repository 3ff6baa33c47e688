package simulator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/wastefleet/infra/mqtt"
)

// ErrDropped reports an assignment the driver chose to ignore.
var ErrDropped = errors.New("assignment dropped")

// Completer closes a collection request on behalf of the driver.
type Completer func(ctx context.Context, a mqtt.Assignment) error

// CollectStrategy defines how a driver handles an assignment.
type CollectStrategy interface {
	Collect(ctx context.Context, a mqtt.Assignment, complete Completer) error
}

// AutoCollect completes every assignment after an optional fixed delay.
type AutoCollect struct {
	Delay time.Duration
}

// Collect implements CollectStrategy.
func (s AutoCollect) Collect(ctx context.Context, a mqtt.Assignment, complete Completer) error {
	if err := wait(ctx, s.Delay); err != nil {
		return err
	}
	return complete(ctx, a)
}

// RandomCollect drops assignments with the configured probability and waits
// for the delay before completing the rest.
type RandomCollect struct {
	Delay    time.Duration
	DropRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomCollect seeds the strategy's generator.
func NewRandomCollect(delay time.Duration, dropRate float64, seed int64) *RandomCollect {
	return &RandomCollect{Delay: delay, DropRate: dropRate, rng: rand.New(rand.NewSource(seed))}
}

// Collect implements CollectStrategy.
func (s *RandomCollect) Collect(ctx context.Context, a mqtt.Assignment, complete Completer) error {
	if s.DropRate > 0 && s.roll() < s.DropRate {
		return ErrDropped
	}
	if err := wait(ctx, s.Delay); err != nil {
		return err
	}
	return complete(ctx, a)
}

func (s *RandomCollect) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s.rng.Float64()
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
