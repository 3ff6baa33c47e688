// Package simulator drives a fleet of fake bins and drivers over MQTT so the
// service can be exercised end to end without hardware.
package simulator

import (
	"math"
	"math/rand"
	"sync"

	"github.com/kilianp07/wastefleet/core/bucket"
)

// SimulatedBin models a bin whose fill level rises between collections and
// whose sensor battery drains over time.
type SimulatedBin struct {
	Code           string
	FillRate       float64 // percentage points per tick
	DrainRate      float64 // battery points per tick
	DisconnectRate float64 // probability per tick of the link flipping

	mu      sync.Mutex
	fill    float64
	battery float64
	online  bool
	ticks   int
	upTicks int
	emptied int
}

// Reading is what a bin reports for one tick.
type Reading struct {
	Fill   float64
	Health bucket.HealthInput
	Online bool
}

// NewSimulatedBin returns an online bin with a full battery.
func NewSimulatedBin(code string, fill, fillRate float64) *SimulatedBin {
	return &SimulatedBin{
		Code:     code,
		FillRate: fillRate,
		fill:     clamp(fill, 0, 100),
		battery:  100,
		online:   true,
	}
}

// Step advances the bin by one tick. factor scales the fill rate, typically
// from the hour-of-day profile.
func (b *SimulatedBin) Step(rng *rand.Rand, factor float64) Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	jitter := 0.5 + rng.Float64()
	b.fill = clamp(b.fill+b.FillRate*factor*jitter, 0, 100)
	b.battery = clamp(b.battery-b.DrainRate, 0, 100)
	if b.DisconnectRate > 0 && rng.Float64() < b.DisconnectRate {
		b.online = !b.online
	}
	if b.battery == 0 {
		b.online = false
	}
	b.ticks++
	if b.online {
		b.upTicks++
	}
	return Reading{
		Fill:   round2(b.fill),
		Online: b.online,
		Health: bucket.HealthInput{
			SensorUptime:   round2(100 * float64(b.upTicks) / float64(b.ticks)),
			BatteryLevel:   round2(b.battery),
			SignalStrength: signalBars(b.battery),
			IsOnline:       b.online,
		},
	}
}

// Empty resets the fill level after a collection.
func (b *SimulatedBin) Empty() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fill = 0
	b.emptied++
}

// Fill is the current fill percentage.
func (b *SimulatedBin) Fill() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fill
}

// Emptied counts collections of this bin.
func (b *SimulatedBin) Emptied() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emptied
}

// signalBars maps battery level onto the 1..5 signal scale.
func signalBars(battery float64) int {
	bars := 1 + int(battery/25)
	if bars > 5 {
		return 5
	}
	return bars
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
