package domain

import (
	"fmt"
	"time"
)

type HealthStatus string

const (
	StatusPassing  HealthStatus = "passing"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
	StatusUnknown  HealthStatus = "unknown"
)

type ServiceInstance struct {
	ID            string            `json:"id"`
	ServiceName   string            `json:"service_name"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	HealthURL     string            `json:"health_url"`
	Tags          []string          `json:"tags,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        HealthStatus      `json:"status"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// Clone returns an independent copy. The registry hands out clones so the
// structs it mutates under its lock are never shared with lock-free readers.
func (i *ServiceInstance) Clone() *ServiceInstance {
	c := *i
	if i.Tags != nil {
		c.Tags = append([]string(nil), i.Tags...)
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (i *ServiceInstance) Address() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

func (i *ServiceInstance) IsPassing() bool {
	return i.Status == StatusPassing
}

// HealthCheckResult is the outcome of a single probe. Each probe cycle
// supersedes the previous result for the same instance; no history is kept.
type HealthCheckResult struct {
	InstanceID    string        `json:"instance_id"`
	ServiceName   string        `json:"service_name"`
	Status        HealthStatus  `json:"status"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
	Latency       time.Duration `json:"latency_ms"`
	Detail        string        `json:"detail,omitempty"`
}

// RoutingDecision records which instance a selector picked for one request.
// It is ephemeral, produced for logging and tracing only.
type RoutingDecision struct {
	ServiceName      string    `json:"service_name"`
	ChosenInstanceID string    `json:"chosen_instance_id"`
	Strategy         string    `json:"strategy"`
	Timestamp        time.Time `json:"timestamp"`
}
