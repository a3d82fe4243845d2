package config

import (
	"context"
	"sync"
)

// Loader produces a fresh configuration.
type Loader func(ctx context.Context) (*Config, error)

// RuntimeCache holds the current configuration and swaps it on reload. Every
// accessor reads the latest snapshot, so callers always consult current
// configuration.
type RuntimeCache struct {
	mu      sync.RWMutex
	current *Config
	loader  Loader
	updates chan struct{}
}

// NewRuntimeCache seeds the cache with initial and uses loader for reloads.
func NewRuntimeCache(initial *Config, loader Loader) *RuntimeCache {
	if initial == nil {
		initial = &Config{}
		ApplyDefaults(initial)
	}
	return &RuntimeCache{
		current: initial,
		loader:  loader,
		updates: make(chan struct{}, 1),
	}
}

// Current returns the active configuration snapshot.
func (c *RuntimeCache) Current() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set replaces the snapshot directly.
func (c *RuntimeCache) Set(cfg *Config) {
	if cfg == nil {
		return
	}
	c.mu.Lock()
	c.current = cfg
	c.mu.Unlock()
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Reload invokes the loader and swaps the snapshot on success.
func (c *RuntimeCache) Reload(ctx context.Context) error {
	if c.loader == nil {
		return nil
	}
	cfg, err := c.loader(ctx)
	if err != nil {
		return err
	}
	c.Set(cfg)
	return nil
}

// Updates signals (coalesced) after each successful swap.
func (c *RuntimeCache) Updates() <-chan struct{} {
	return c.updates
}

// Connection implements the model catalog against the current snapshot.
func (c *RuntimeCache) Connection(id string) (Connection, bool) {
	return c.Current().Connection(id)
}

// ConfiguredModels implements the model catalog against the current snapshot.
func (c *RuntimeCache) ConfiguredModels() []string {
	return c.Current().ConfiguredModels()
}

// DefaultModelPriority implements the model catalog against the current snapshot.
func (c *RuntimeCache) DefaultModelPriority() []string {
	return c.Current().DefaultModelPriority()
}
