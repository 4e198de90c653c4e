package application

import "portico/internal/domain"

// The getters below return clones. Registry-owned structs are mutated under
// the lock by re-registration, heartbeats and status updates, so handing out
// the live pointers would race with readers holding old snapshots.

func (r *Registry) GetInstance(instanceID string) *domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if instance, ok := r.instances[instanceID]; ok {
		return instance.Clone()
	}
	return nil
}

func (r *Registry) GetInstances(serviceName string) []*domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instanceIDs := r.services[serviceName]
	if len(instanceIDs) == 0 {
		return nil
	}

	instances := make([]*domain.ServiceInstance, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		if instance := r.instances[id]; instance != nil {
			instances = append(instances, instance.Clone())
		}
	}
	return instances
}

// GetService is GetInstances with a hard failure for unknown names, for
// callers that need to distinguish "no such service" from "no instances".
func (r *Registry) GetService(serviceName string) ([]*domain.ServiceInstance, error) {
	instances := r.GetInstances(serviceName)
	if len(instances) == 0 {
		return nil, domain.ErrServiceNotFound
	}
	return instances, nil
}

func (r *Registry) GetPassingInstances(serviceName string) []*domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instanceIDs := r.services[serviceName]
	if len(instanceIDs) == 0 {
		return nil
	}

	var passing []*domain.ServiceInstance
	for _, id := range instanceIDs {
		if instance := r.instances[id]; instance != nil && instance.IsPassing() {
			passing = append(passing, instance.Clone())
		}
	}
	return passing
}

func (r *Registry) GetAllServices() map[string][]*domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]*domain.ServiceInstance)
	for serviceName, instanceIDs := range r.services {
		instances := make([]*domain.ServiceInstance, 0, len(instanceIDs))
		for _, id := range instanceIDs {
			if instance := r.instances[id]; instance != nil {
				instances = append(instances, instance.Clone())
			}
		}
		if len(instances) > 0 {
			result[serviceName] = instances
		}
	}
	return result
}

// SetStatus updates an instance's health classification. Called by the
// prober after each probe; unknown IDs are ignored since the instance may
// have been deregistered between probe start and completion.
func (r *Registry) SetStatus(instanceID string, status domain.HealthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if instance, ok := r.instances[instanceID]; ok {
		instance.Status = status
	}
}
