package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/kilianp07/wastefleet/core/factory"
	"github.com/kilianp07/wastefleet/core/model"
)

// DriverDirectory lists drivers currently able to take a collection.
type DriverDirectory interface {
	AvailableDrivers(ctx context.Context) ([]string, error)
}

// StaticDirectory always reports the same roster.
type StaticDirectory []string

func (d StaticDirectory) AvailableDrivers(context.Context) ([]string, error) {
	return slices.Clone(d), nil
}

// MergedDirectory unions several directories in order, dropping duplicates.
// Any member failure fails the lookup.
type MergedDirectory []DriverDirectory

func (m MergedDirectory) AvailableDrivers(ctx context.Context) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, d := range m {
		ids, err := d.AvailableDrivers(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// DriverSelector picks one driver for a bucket out of a non-empty list.
type DriverSelector interface {
	Select(b model.Bucket, drivers []string) string
}

// FirstSelector always picks the first listed driver.
type FirstSelector struct{}

func (FirstSelector) Select(_ model.Bucket, drivers []string) string { return drivers[0] }

// RoundRobinSelector rotates through the listed drivers.
type RoundRobinSelector struct {
	next atomic.Uint64
}

func (s *RoundRobinSelector) Select(_ model.Bucket, drivers []string) string {
	n := s.next.Add(1) - 1
	return drivers[n%uint64(len(drivers))]
}

var selectors = factory.NewRegistry[DriverSelector]()

func init() {
	_ = selectors.Register("first", func(map[string]any) (DriverSelector, error) { return FirstSelector{}, nil })
	_ = selectors.Register("round_robin", func(map[string]any) (DriverSelector, error) { return &RoundRobinSelector{}, nil })
}

// NewSelector builds the named selection strategy.
func NewSelector(name string) (DriverSelector, error) {
	s, err := selectors.Create(factory.ModuleConfig{Type: name})
	if err != nil {
		return nil, fmt.Errorf("dispatch: selector: %w", err)
	}
	return s, nil
}
