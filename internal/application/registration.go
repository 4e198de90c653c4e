package application

import (
	"time"

	"portico/internal/domain"

	"github.com/google/uuid"
)

func (r *Registry) Register(req *domain.RegisterRequest) (*domain.RegisterResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if req.InstanceID != "" {
		if existing, ok := r.instances[req.InstanceID]; ok {
			return r.updateLocked(existing, req, now), nil
		}
	}

	instanceID := req.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	instance := &domain.ServiceInstance{
		ID:          instanceID,
		ServiceName: req.ServiceName,
		Host:        req.Host,
		Port:        req.Port,
		HealthURL:   req.HealthURL,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		// Instances stay out of routing until the first passing probe.
		Status:        domain.StatusUnknown,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}

	r.instances[instanceID] = instance
	r.services[req.ServiceName] = append(r.services[req.ServiceName], instanceID)

	return r.responseFor(instance), nil
}

// updateLocked refreshes the metadata of an already-registered instance.
// Re-registration is idempotent per instance ID: status, registration time
// and failure history are preserved.
func (r *Registry) updateLocked(instance *domain.ServiceInstance, req *domain.RegisterRequest, now time.Time) *domain.RegisterResponse {
	if instance.ServiceName != req.ServiceName {
		r.unindexLocked(instance)
		instance.ServiceName = req.ServiceName
		r.services[req.ServiceName] = append(r.services[req.ServiceName], instance.ID)
	}

	instance.Host = req.Host
	instance.Port = req.Port
	instance.HealthURL = req.HealthURL
	instance.Tags = req.Tags
	instance.Metadata = req.Metadata
	instance.LastHeartbeat = now

	return r.responseFor(instance)
}

func (r *Registry) responseFor(instance *domain.ServiceInstance) *domain.RegisterResponse {
	return &domain.RegisterResponse{
		InstanceID:        instance.ID,
		ServiceName:       instance.ServiceName,
		HeartbeatInterval: int(r.config.HeartbeatTTL.Seconds()),
		HeartbeatURL:      "/registry/heartbeat",
	}
}

func (r *Registry) Deregister(instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, exists := r.instances[instanceID]
	if !exists {
		return domain.ErrInstanceNotFound
	}

	r.unindexLocked(instance)
	delete(r.instances, instanceID)

	return nil
}

func (r *Registry) unindexLocked(instance *domain.ServiceInstance) {
	name := instance.ServiceName

	instanceIDs := r.services[name]
	for i, id := range instanceIDs {
		if id == instance.ID {
			r.services[name] = append(instanceIDs[:i], instanceIDs[i+1:]...)
			break
		}
	}

	if len(r.services[name]) == 0 {
		delete(r.services, name)
	}
}
