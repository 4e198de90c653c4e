package domain

import "fmt"

type RegisterRequest struct {
	// InstanceID is optional. When supplied and already known, registration
	// updates the existing instance in place instead of creating a duplicate.
	InstanceID  string            `json:"instance_id"`
	ServiceName string            `json:"service_name" binding:"required"`
	Host        string            `json:"host" binding:"required"`
	Port        int               `json:"port" binding:"required"`
	HealthURL   string            `json:"health_url"`
	Tags        []string          `json:"tags"`
	Metadata    map[string]string `json:"metadata"`
}

func (r *RegisterRequest) Validate() error {
	if r.ServiceName == "" {
		return fmt.Errorf("%w: service_name is required", ErrInvalidRequest)
	}
	if r.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidRequest)
	}
	if r.HealthURL == "" {
		r.HealthURL = "/health"
	}
	return nil
}

type RegisterResponse struct {
	InstanceID        string `json:"instance_id"`
	ServiceName       string `json:"service_name"`
	HeartbeatInterval int    `json:"heartbeat_interval"`
	HeartbeatURL      string `json:"heartbeat_url"`
}

type HeartbeatRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
}

type HeartbeatResponse struct {
	Status string `json:"status"`
}

type DeregisterRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
}
