package config

import (
	"github.com/rs/zerolog"

	"github.com/shinji-kodama/workshop-hub/internal/registry"
)

// OpenRegistries builds a registry.Set from the configured registries.
// Nothing is read or created on disk until the registries are used.
func (c *Config) OpenRegistries(log *zerolog.Logger) (*registry.Set, error) {
	regs := make([]*registry.Registry, 0, len(c.Registries))
	for _, rc := range c.Registries {
		r, err := registry.New(registry.Options{
			Name:        rc.Name,
			Path:        rc.Path,
			BasePort:    rc.BasePort,
			LockTimeout: rc.LockTimeout.Duration,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	return registry.NewSet(regs...)
}
