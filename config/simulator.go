package config

import "github.com/kilianp07/wastefleet/auth"

// SimulatorConfig points the simulate command at a running service.
type SimulatorConfig struct {
	APIURL string    `json:"api_url"`
	Auth   auth.Conf `json:"auth"`
}

// SetDefaults applies sane defaults.
func (c *SimulatorConfig) SetDefaults() {
	if c.APIURL == "" {
		c.APIURL = "http://localhost:8080"
	}
}

// Validate checks the credentials when they are set.
func (c SimulatorConfig) Validate() error {
	return c.Auth.Validate()
}
