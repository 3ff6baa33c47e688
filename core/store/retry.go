package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/wastefleet/core/model"
)

// DefaultMaxRetries bounds optimistic-concurrency attempts per operation.
const DefaultMaxRetries = 3

// ErrContention is returned by WithRetry when every attempt lost the race.
var ErrContention = errors.New("too much contention")

// Decide inspects the freshly read bucket and returns the mutation to commit.
// The returned mutation's Bucket and ExpectedVersion are filled in by
// WithRetry. Returning a nil mutation ends the loop without writing.
type Decide func(b *model.Bucket) (*Mutation, error)

// WithRetry runs a read-decide-write loop with optimistic locking on a single
// bucket. On version mismatch the whole cycle is redone, at most maxRetries
// times. It returns the bucket as committed (or as read when decide declined).
func WithRetry(ctx context.Context, s Store, maxRetries int, bucketID string, decide Decide) (model.Bucket, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		current, err := s.GetBucket(ctx, bucketID)
		if err != nil {
			return model.Bucket{}, err
		}
		oldVersion := current.Version
		m, err := decide(&current)
		if err != nil {
			return current, err
		}
		if m == nil {
			return current, nil
		}
		m.Bucket = &current
		m.ExpectedVersion = oldVersion
		err = s.Apply(ctx, *m)
		if err == nil {
			current.Version = oldVersion + 1
			return current, nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return current, err
		}
		// someone else wrote first, start over from a fresh read
	}
	return model.Bucket{}, fmt.Errorf("%w updating bucket %q", ErrContention, bucketID)
}
