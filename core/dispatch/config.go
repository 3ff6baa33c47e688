package dispatch

import (
	"fmt"
	"time"

	"github.com/kilianp07/wastefleet/core/dispatch/audit"
	"github.com/kilianp07/wastefleet/core/store"
)

// Config defines dispatch-related settings.
type Config struct {
	// MaxRetries bounds the read-decide-write attempts per operation.
	MaxRetries int `json:"max_retries" koanf:"max_retries"`
	// Selector names the driver selection strategy: "first" or "round_robin".
	Selector string `json:"selector" koanf:"selector"`
	// Drivers is the static roster used when MQTT presence is disabled.
	Drivers []string `json:"drivers" koanf:"drivers"`
	// NotifyTimeout bounds a single driver notification.
	NotifyTimeout time.Duration `json:"notify_timeout" koanf:"notify_timeout"`
	// AuditPath enables the JSONL audit trail when set.
	AuditPath   string             `json:"audit_path" koanf:"audit_path"`
	AuditRotate audit.RotateConfig `json:"audit_rotate" koanf:"audit_rotate"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = store.DefaultMaxRetries
	}
	if c.Selector == "" {
		c.Selector = "first"
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRetries > 10 {
		return fmt.Errorf("dispatch: max_retries %d too large", c.MaxRetries)
	}
	if _, err := NewSelector(c.Selector); err != nil {
		return err
	}
	return nil
}
