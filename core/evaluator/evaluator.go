// Package evaluator holds the pure fill and health rules applied to buckets.
package evaluator

import (
	"regexp"

	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/model"
)

// FillStatus is the coarse fill band of a bucket.
type FillStatus string

const (
	StatusLow    FillStatus = "low"
	StatusMedium FillStatus = "medium"
	StatusFull   FillStatus = "full"
)

const (
	// MediumThreshold is the lowest fill classified as medium.
	MediumThreshold = 50.0
	// FullThreshold is the lowest fill classified as full; it also arms dispatch.
	FullThreshold = 90.0

	MinSignal = 1
	MaxSignal = 5
)

var bucketIDPattern = regexp.MustCompile(`^\d{6}$`)

// ComputeFillAfterAdd returns current+delta capped at capacity.
func ComputeFillAfterAdd(current, delta, capacity float64) (float64, error) {
	if delta < 0 {
		return 0, errs.New(errs.ErrInvalidInput, "", "fill delta must not be negative, got %v", delta)
	}
	if capacity <= 0 {
		return 0, errs.New(errs.ErrInvalidInput, "", "capacity must be positive, got %v", capacity)
	}
	return min(current+delta, capacity), nil
}

// ClassifyFillStatus maps a fill percentage to its band. Thresholds belong to
// the upper band.
func ClassifyFillStatus(fill float64) FillStatus {
	switch {
	case fill >= FullThreshold:
		return StatusFull
	case fill >= MediumThreshold:
		return StatusMedium
	default:
		return StatusLow
	}
}

// NeedsDriver reports whether the fill level requires a collection.
func NeedsDriver(fill float64) bool { return fill >= FullThreshold }

// ValidateHealth checks every field of a health reading against its range.
func ValidateHealth(uptime, battery float64, signal int) bool {
	return inPercent(uptime) && inPercent(battery) && signal >= MinSignal && signal <= MaxSignal
}

// ValidFill reports whether fill is a valid percentage.
func ValidFill(fill float64) bool { return inPercent(fill) }

// ValidBucketID reports whether code is a 6-digit numeric bucket code.
func ValidBucketID(code string) bool { return bucketIDPattern.MatchString(code) }

// FillDelta converts a deposited weight into fill percentage points. A
// kilogram fills one percent of a bin of capacity 100; larger bins fill
// proportionally slower.
func FillDelta(weight, capacity float64) float64 {
	if weight <= 0 || capacity <= 0 {
		return 0
	}
	return weight * 100 / capacity
}

// Eligible reports whether a bucket may enter driver assignment: full,
// online and not already assigned.
func Eligible(b model.Bucket) bool {
	return NeedsDriver(b.FillPercentage) && !b.IsAssigned && b.Health.IsOnline
}

func inPercent(v float64) bool { return v >= 0 && v <= 100 }
