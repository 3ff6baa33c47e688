package docstore

import (
	"fmt"

	"github.com/kilianp07/wastefleet/core/factory"
	"github.com/kilianp07/wastefleet/core/store"
)

var registry = factory.NewRegistry[store.Store]()

func init() {
	_ = registry.Register("memory", func(map[string]any) (store.Store, error) {
		return NewMemoryStore(), nil
	})
	_ = registry.Register("sqlite", func(conf map[string]any) (store.Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		c.Backend = "sqlite"
		c.SetDefaults()
		return NewSQLiteStore(c.Path, c.Timeout())
	})
	_ = registry.Register("postgres", func(conf map[string]any) (store.Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		c.Backend = "postgres"
		c.SetDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return NewPostgresStore(c.DSN, c.Timeout())
	})
}

// Open builds the backend selected by cfg.Backend.
func Open(cfg Config) (store.Store, error) {
	cfg.SetDefaults()
	s, err := registry.Create(factory.ModuleConfig{
		Type: cfg.Backend,
		Conf: map[string]any{"path": cfg.Path, "dsn": cfg.DSN, "timeout_ms": cfg.TimeoutMS},
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	return s, nil
}
