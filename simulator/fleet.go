package simulator

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

const (
	defaultFirstCode = 100001
	defaultFillRate  = 2.0
	defaultDrainRate = 0.05
)

// FleetConfig holds parameters for bulk fleet generation.
type FleetConfig struct {
	Bins           int
	FirstCode      int
	MeanFillRate   float64
	DrainRate      float64
	DisconnectRate float64
	Drivers        int
}

func (c *FleetConfig) setDefaults() {
	if c.FirstCode == 0 {
		c.FirstCode = defaultFirstCode
	}
	if c.MeanFillRate <= 0 {
		c.MeanFillRate = defaultFillRate
	}
	if c.DrainRate < 0 {
		c.DrainRate = 0
	} else if c.DrainRate == 0 {
		c.DrainRate = defaultDrainRate
	}
}

// GenerateBins creates cfg.Bins bins with consecutive 6-digit codes starting
// at cfg.FirstCode. Fill rates spread around cfg.MeanFillRate and the bins
// start between empty and half full.
func GenerateBins(cfg FleetConfig, rng *rand.Rand) ([]*SimulatedBin, error) {
	cfg.setDefaults()
	if cfg.Bins <= 0 {
		return nil, nil
	}
	if cfg.FirstCode < 100000 || cfg.FirstCode+cfg.Bins-1 > 999999 {
		return nil, fmt.Errorf("bin codes %d..%d are not all 6 digits", cfg.FirstCode, cfg.FirstCode+cfg.Bins-1)
	}
	bins := make([]*SimulatedBin, cfg.Bins)
	for i := range bins {
		b := NewSimulatedBin(fmt.Sprintf("%06d", cfg.FirstCode+i), rng.Float64()*50, cfg.MeanFillRate*(0.5+rng.Float64()))
		b.DrainRate = cfg.DrainRate
		b.DisconnectRate = cfg.DisconnectRate
		bins[i] = b
	}
	return bins, nil
}

// DriverIDs returns n driver ids drv001..drvNNN.
func DriverIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, fmt.Sprintf("drv%03d", i))
	}
	return ids
}

// FillProfile scales fill rates by hour of day.
type FillProfile [24]float64

// Factor returns the multiplier for hour. An unset profile is flat.
func (p FillProfile) Factor(hour int) float64 {
	if p == (FillProfile{}) || hour < 0 || hour > 23 {
		return 1
	}
	return p[hour]
}

// LoadFillProfile reads an hourly profile such as {"12": 2.5, "3": 0.1}.
// Hours left out contribute nothing.
func LoadFillProfile(data []byte) (FillProfile, error) {
	var m map[string]float64
	var prof FillProfile
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 && v >= 0 {
			prof[hour] = v
		}
	}
	return prof, nil
}
