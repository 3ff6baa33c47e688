package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Path    string
	Timeout time.Duration
}

type sampleConf struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	require.NoError(t, reg.Register("SQLite", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{Path: c.Path, Timeout: c.Timeout}, nil
	}))

	inst, err := reg.Create(ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "bins.db", "timeout": "2s"}})
	require.NoError(t, err)
	assert.Equal(t, "bins.db", inst.Path)
	assert.Equal(t, 2*time.Second, inst.Timeout)
}

func TestRegistry_NilConf(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("x", func(conf map[string]any) (int, error) {
		require.NotNil(t, conf)
		return len(conf), nil
	}))
	n, err := reg.Create(ModuleConfig{Type: "x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("x", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("X", func(map[string]any) (int, error) { return 2, nil }))
	assert.Error(t, reg.Register("y", nil))
	assert.Error(t, reg.Register(" ", func(map[string]any) (int, error) { return 0, nil }))

	_, err := reg.Create(ModuleConfig{Type: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known: x")
	assert.Equal(t, []string{"x"}, reg.Names())
}
