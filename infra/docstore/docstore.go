// Package docstore implements the core document store contract on top of
// process memory, SQLite and PostgreSQL.
package docstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/wastefleet/core/model"
)

var errClosed = errors.New("docstore: store closed")

// Config selects and tunes the store backend.
type Config struct {
	// Backend is "memory", "sqlite" or "postgres".
	Backend string `json:"backend" koanf:"backend"`
	// Path is the SQLite database file. ":memory:" keeps it in memory.
	Path string `json:"path" koanf:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn" koanf:"dsn"`
	// TimeoutMS bounds every store call.
	TimeoutMS int `json:"timeout_ms" koanf:"timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "wastefleet.db"
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 2000
	}
}

// Validate checks the backend specific settings.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case "memory", "sqlite":
		return nil
	case "postgres":
		if c.DSN == "" {
			return errors.New("postgres backend requires dsn")
		}
		return nil
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// Timeout returns the per-call deadline.
func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }

func newID() string { return uuid.NewString() }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneBucket(b model.Bucket) model.Bucket {
	if b.Location != nil {
		loc := *b.Location
		b.Location = &loc
	}
	return b
}

func cloneCollection(r model.CollectionRequest) model.CollectionRequest {
	r.StartedAt = cloneTime(r.StartedAt)
	r.CollectedAt = cloneTime(r.CollectedAt)
	return r
}

func cloneTechnician(r model.TechnicianRequest) model.TechnicianRequest {
	r.AssignedAt = cloneTime(r.AssignedAt)
	r.ResolvedAt = cloneTime(r.ResolvedAt)
	return r
}
