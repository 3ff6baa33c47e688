package model

import "time"

// Versioned carries the document version used for conditional writes. Stores
// bump it on every successful write of the owning record.
type Versioned struct {
	Version int64 `json:"version"`
}

func (v *Versioned) GetVersion() int64  { return v.Version }
func (v *Versioned) SetVersion(n int64) { v.Version = n }

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Health is the sensor health snapshot reported by a bucket.
type Health struct {
	SensorUptime   float64 `json:"sensor_uptime"`   // percent, 0-100
	BatteryLevel   float64 `json:"battery_level"`   // percent, 0-100
	SignalStrength int     `json:"signal_strength"` // bars, 1-5
	IsOnline       bool    `json:"is_online"`
}

// Bucket is a physical waste bin tracked by the fleet.
type Bucket struct {
	Versioned

	ID       string `json:"id"`
	BucketID string `json:"bucket_id"` // externally-facing 6-digit code
	Name     string `json:"name"`
	UserID   string `json:"user_id"`

	Capacity       float64 `json:"capacity"`
	FillPercentage float64 `json:"fill_percentage"`

	// Location is nil when the bin has never reported a position.
	Location *GeoPoint `json:"location,omitempty"`
	Address  string    `json:"address,omitempty"`

	IsAssigned bool   `json:"is_assigned"`
	Health     Health `json:"health"`

	LastMaintenance time.Time `json:"last_maintenance,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// HasLocation reports whether the bucket carries a usable geolocation.
func (b Bucket) HasLocation() bool { return b.Location != nil }
