package application

import (
	"sync"

	"portico/internal/domain"
)

// InstanceCache is the read path for dispatch: an eventually-consistent view
// of the passing instances per logical service name. The prober rebuilds one
// service's entry atomically after each probe cycle; readers always get the
// last-known-good snapshot and never block on a live health check.
type InstanceCache struct {
	mu   sync.RWMutex
	sets map[string][]*domain.ServiceInstance
}

func NewInstanceCache() *InstanceCache {
	return &InstanceCache{
		sets: make(map[string][]*domain.ServiceInstance),
	}
}

// Resolve returns the current snapshot for a service. Unknown names yield an
// empty result, not an error; callers fail fast on empty. The returned slice
// is owned by the cache and must not be mutated.
func (c *InstanceCache) Resolve(serviceName string) []*domain.ServiceInstance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sets[serviceName]
}

// Rebuild replaces the entry for one service in a single step. Readers see
// either the fully-old or fully-new list, never a mix.
func (c *InstanceCache) Rebuild(serviceName string, passing []*domain.ServiceInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(passing) == 0 {
		delete(c.sets, serviceName)
		return
	}
	c.sets[serviceName] = passing
}

// Drop removes a service entirely, used when its last instance deregisters.
func (c *InstanceCache) Drop(serviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sets, serviceName)
}

func (c *InstanceCache) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.sets))
	for name := range c.sets {
		names = append(names, name)
	}
	return names
}
