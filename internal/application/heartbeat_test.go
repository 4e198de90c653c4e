package application

import (
	"testing"
	"time"

	"portico/internal/domain"
)

func TestHeartbeat_Success(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	resp := register(t, registry, "order-service", 5001)

	oldHeartbeat := registry.GetInstance(resp.InstanceID).LastHeartbeat
	time.Sleep(10 * time.Millisecond)

	if err := registry.Heartbeat(resp.InstanceID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newHeartbeat := registry.GetInstance(resp.InstanceID).LastHeartbeat
	if !newHeartbeat.After(oldHeartbeat) {
		t.Error("LastHeartbeat was not updated")
	}
}

func TestHeartbeat_NotFound(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	if err := registry.Heartbeat("non-existent-id"); err != domain.ErrInstanceNotFound {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestExpire_RemovesStaleInstances(t *testing.T) {
	registry := NewRegistry(RegistryConfig{HeartbeatTTL: 20 * time.Millisecond})

	stale := register(t, registry, "order-service", 5001)
	fresh := register(t, registry, "order-service", 5002)

	time.Sleep(50 * time.Millisecond)
	if err := registry.Heartbeat(fresh.InstanceID); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	registry.expire()

	if registry.GetInstance(stale.InstanceID) != nil {
		t.Error("stale instance should have been expired")
	}
	if registry.GetInstance(fresh.InstanceID) == nil {
		t.Error("fresh instance should have survived expiry")
	}
}

func TestExpire_MarksOverdueWarning(t *testing.T) {
	registry := NewRegistry(RegistryConfig{HeartbeatTTL: 30 * time.Millisecond})

	resp := register(t, registry, "order-service", 5001)
	registry.SetStatus(resp.InstanceID, domain.StatusPassing)

	time.Sleep(40 * time.Millisecond)
	registry.expire()

	instance := registry.GetInstance(resp.InstanceID)
	if instance == nil {
		t.Fatal("instance removed too early, expected warning first")
	}
	if instance.Status != domain.StatusWarning {
		t.Errorf("status = %s, want %s", instance.Status, domain.StatusWarning)
	}
}
