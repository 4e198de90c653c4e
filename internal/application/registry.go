package application

import (
	"sync"
	"time"

	"portico/internal/domain"
)

type RegistryConfig struct {
	ServiceToken string
	HeartbeatTTL time.Duration
}

// Registry is the discovery backend: the authoritative table of registered
// instances. The prober and the expiry loop mutate instance status only
// through its methods; everything else reads snapshots.
type Registry struct {
	config    RegistryConfig
	mu        sync.RWMutex
	instances map[string]*domain.ServiceInstance
	services  map[string][]string
	stopCh    chan struct{}
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		config:    cfg,
		instances: make(map[string]*domain.ServiceInstance),
		services:  make(map[string][]string),
		stopCh:    make(chan struct{}),
	}
}
