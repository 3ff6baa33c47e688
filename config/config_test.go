package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `store:
  backend: sqlite
  path: /tmp/fleet.db
dispatch:
  max_retries: 5
  selector: round_robin
  drivers: [d1, d2]
  notify_timeout: 2s
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "cli"
  qos:
    collection: 2
http:
  addr: ":9090"
metrics:
  sinks:
    - type: prometheus
logging:
  level: debug
sentry:
  dsn: ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"store.backend", cfg.Store.Backend, "sqlite"},
		{"store.path", cfg.Store.Path, "/tmp/fleet.db"},
		{"dispatch.max_retries", cfg.Dispatch.MaxRetries, 5},
		{"dispatch.selector", cfg.Dispatch.Selector, "round_robin"},
		{"dispatch.notify_timeout", cfg.Dispatch.NotifyTimeout, 2 * time.Second},
		{"mqtt.broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"mqtt.qos", cfg.MQTT.QoS["collection"], byte(2)},
		{"http.addr", cfg.HTTP.Addr, ":9090"},
		{"metrics.sinks", cfg.Metrics.Sinks[0].Type, "prometheus"},
		{"logging.level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
	assert.Equal(t, []string{"d1", "d2"}, cfg.Dispatch.Drivers)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", `{}`))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "http://localhost:8080", cfg.Simulator.APIURL)
	assert.False(t, cfg.Simulator.Auth.Enabled())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("K_STORE__PATH", "/data/env.db")
	t.Setenv("K_STORE__BACKEND", "sqlite")
	t.Setenv("K_HTTP__ADDR", ":7070")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/env.db", cfg.Store.Path)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]string{
		"backend":  "store:\n  backend: mongo\n",
		"retries":  "dispatch:\n  max_retries: 50\n",
		"selector": "dispatch:\n  selector: random\n",
		"mqtt":     "mqtt:\n  enabled: true\n",
		"level":    "logging:\n  level: loud\n",
		"auth":     "simulator:\n  auth:\n    token_url: http://idp/token\n",
		"postgres": "store:\n  backend: postgres\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", data))
			assert.Error(t, err)
		})
	}
	_, err := Load(writeConfig(t, "config.toml", ""))
	assert.Error(t, err)
}
