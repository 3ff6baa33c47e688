// Package fleet provides read-only projections over the stored fleet for
// maps and dashboards.
package fleet

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/umahmood/haversine"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/evaluator"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/store"
)

const (
	opLocations = "failed to fetch bin locations"
	opStats     = "failed to fetch trash statistics"
	opSummary   = "failed to summarise fleet"
	opNearby    = "failed to find nearby bins"

	// LowBattery is the battery level under which a bin is flagged.
	LowBattery = 20.0
)

// BinLocation is the map projection of a located bucket.
type BinLocation struct {
	ID       string               `json:"id"`
	BucketID string               `json:"bucket_id"`
	Name     string               `json:"name"`
	Lat      float64              `json:"lat"`
	Lng      float64              `json:"lng"`
	Address  string               `json:"address,omitempty"`
	Fill     float64              `json:"fill"`
	Status   evaluator.FillStatus `json:"status"`
}

// NearbyBin is a located bucket with its great-circle distance from the
// query point.
type NearbyBin struct {
	BinLocation
	DistanceKM float64 `json:"distance_km"`
}

// TrashStats tallies a user's current deposits by type.
type TrashStats struct {
	Total         int `json:"total"`
	Organic       int `json:"organic"`
	Recyclable    int `json:"recyclable"`
	NonRecyclable int `json:"non_recyclable"`
}

// Summary aggregates a user's buckets.
type Summary struct {
	Buckets    int     `json:"buckets"`
	Low        int     `json:"low"`
	Medium     int     `json:"medium"`
	Full       int     `json:"full"`
	Online     int     `json:"online"`
	Assigned   int     `json:"assigned"`
	LowBattery int     `json:"low_battery"`
	MeanFill   float64 `json:"mean_fill"`
	StdDevFill float64 `json:"stddev_fill"`
	P90Fill    float64 `json:"p90_fill"`
}

// Service answers fleet queries.
type Service struct {
	store store.Store
}

// NewService creates the query facade.
func NewService(st store.Store) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("fleet: nil store provided to NewService")
	}
	return &Service{store: st}, nil
}

// BinLocations lists every bucket with a geolocation, annotated with its
// fill band.
func (s *Service) BinLocations(ctx context.Context) ([]BinLocation, error) {
	bs, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, store.Wrap(opLocations, err)
	}
	return Locations(bs), nil
}

// Locations projects bs onto the map, dropping unlocated buckets.
func Locations(bs []model.Bucket) []BinLocation {
	out := make([]BinLocation, 0, len(bs))
	for _, b := range bs {
		if !b.HasLocation() {
			continue
		}
		out = append(out, BinLocation{
			ID:       b.ID,
			BucketID: b.BucketID,
			Name:     b.Name,
			Lat:      b.Location.Latitude,
			Lng:      b.Location.Longitude,
			Address:  b.Address,
			Fill:     b.FillPercentage,
			Status:   evaluator.ClassifyFillStatus(b.FillPercentage),
		})
	}
	return out
}

// Nearby lists located buckets within radiusKM of (lat, lng), closest
// first. A non-positive radius is rejected.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusKM float64) ([]NearbyBin, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, errs.New(errs.ErrInvalidInput, opNearby, "coordinates out of range")
	}
	if radiusKM <= 0 {
		return nil, errs.New(errs.ErrInvalidInput, opNearby, "radius must be positive")
	}
	bs, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, store.Wrap(opNearby, err)
	}
	return Within(Locations(bs), lat, lng, radiusKM), nil
}

// Within keeps the locations inside radiusKM of the origin, sorted by
// distance then bucket code.
func Within(locs []BinLocation, lat, lng, radiusKM float64) []NearbyBin {
	origin := haversine.Coord{Lat: lat, Lon: lng}
	out := make([]NearbyBin, 0, len(locs))
	for _, l := range locs {
		_, km := haversine.Distance(origin, haversine.Coord{Lat: l.Lat, Lon: l.Lng})
		if km > radiusKM {
			continue
		}
		out = append(out, NearbyBin{BinLocation: l, DistanceKM: math.Round(km*1000) / 1000})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKM != out[j].DistanceKM {
			return out[i].DistanceKM < out[j].DistanceKM
		}
		return out[i].BucketID < out[j].BucketID
	})
	return out
}

// TrashStats counts the user's added trash items per type.
func (s *Service) TrashStats(ctx context.Context, userID string) (TrashStats, error) {
	if userID == "" {
		return TrashStats{}, errs.New(errs.ErrInvalidInput, opStats, "user id is required")
	}
	items, err := s.store.ListTrashByOwner(ctx, userID)
	if err != nil {
		return TrashStats{}, store.Wrap(opStats, err)
	}
	return Tally(items), nil
}

// Tally counts items still marked added.
func Tally(items []model.TrashItem) TrashStats {
	var st TrashStats
	for _, it := range items {
		if it.Status != model.TrashAdded {
			continue
		}
		st.Total++
		switch it.TrashType {
		case model.TrashOrganic:
			st.Organic++
		case model.TrashRecyclable:
			st.Recyclable++
		case model.TrashNonRecyclable:
			st.NonRecyclable++
		}
	}
	return st
}

// Summary aggregates the user's buckets.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	if userID == "" {
		return Summary{}, errs.New(errs.ErrInvalidInput, opSummary, "user id is required")
	}
	bs, err := s.store.ListBucketsByOwner(ctx, userID)
	if err != nil {
		return Summary{}, store.Wrap(opSummary, err)
	}
	return Summarise(bs), nil
}

// Summarise computes band counts and fill statistics over bs.
func Summarise(bs []model.Bucket) Summary {
	sum := Summary{Buckets: len(bs)}
	if len(bs) == 0 {
		return sum
	}
	fills := make([]float64, 0, len(bs))
	for _, b := range bs {
		fills = append(fills, b.FillPercentage)
		switch evaluator.ClassifyFillStatus(b.FillPercentage) {
		case evaluator.StatusFull:
			sum.Full++
		case evaluator.StatusMedium:
			sum.Medium++
		default:
			sum.Low++
		}
		if b.Health.IsOnline {
			sum.Online++
		}
		if b.IsAssigned {
			sum.Assigned++
		}
		if b.Health.BatteryLevel < LowBattery {
			sum.LowBattery++
		}
	}
	mean, std := stat.MeanStdDev(fills, nil)
	if math.IsNaN(std) {
		std = 0
	}
	sort.Float64s(fills)
	sum.MeanFill = mean
	sum.StdDevFill = std
	sum.P90Fill = stat.Quantile(0.9, stat.Empirical, fills, nil)
	return sum
}
