package application

import (
	"errors"
	"testing"

	"portico/internal/domain"
)

func register(t *testing.T, registry *Registry, service string, port int) *domain.RegisterResponse {
	t.Helper()

	resp, err := registry.Register(&domain.RegisterRequest{
		ServiceName: service,
		Host:        "localhost",
		Port:        port,
	})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	return resp
}

func TestRegister_Success(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	resp := register(t, registry, "order-service", 5001)

	if resp.InstanceID == "" {
		t.Error("Register() should assign an instance ID")
	}

	instance := registry.GetInstance(resp.InstanceID)
	if instance == nil {
		t.Fatal("registered instance not found")
	}
	if instance.Status != domain.StatusUnknown {
		t.Errorf("new instance status = %s, want %s (not routable before first passing probe)",
			instance.Status, domain.StatusUnknown)
	}
}

func TestRegister_Invalid(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	_, err := registry.Register(&domain.RegisterRequest{Host: "localhost", Port: 5001})
	if err == nil {
		t.Error("Register() should reject a request without service_name")
	}
}

func TestRegister_IdempotentByInstanceID(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	resp := register(t, registry, "order-service", 5001)

	registry.SetStatus(resp.InstanceID, domain.StatusPassing)
	registeredAt := registry.GetInstance(resp.InstanceID).RegisteredAt

	again, err := registry.Register(&domain.RegisterRequest{
		InstanceID:  resp.InstanceID,
		ServiceName: "order-service",
		Host:        "localhost",
		Port:        5002,
		Metadata:    map[string]string{"zone": "b"},
	})
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}

	if again.InstanceID != resp.InstanceID {
		t.Errorf("re-register created new instance %s, want %s", again.InstanceID, resp.InstanceID)
	}

	if got := len(registry.GetInstances("order-service")); got != 1 {
		t.Errorf("instance count after re-register = %d, want 1", got)
	}

	instance := registry.GetInstance(resp.InstanceID)
	if instance.Port != 5002 {
		t.Errorf("re-register should update metadata, port = %d", instance.Port)
	}
	if instance.Metadata["zone"] != "b" {
		t.Error("re-register should update metadata map")
	}
	if instance.Status != domain.StatusPassing {
		t.Errorf("re-register must preserve health status, got %s", instance.Status)
	}
	if !instance.RegisteredAt.Equal(registeredAt) {
		t.Error("re-register must preserve RegisteredAt")
	}
}

func TestDeregister_Success(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	resp := register(t, registry, "order-service", 5001)

	if err := registry.Deregister(resp.InstanceID); err != nil {
		t.Fatalf("Deregister() failed: %v", err)
	}

	if registry.GetInstance(resp.InstanceID) != nil {
		t.Error("instance still present after deregister")
	}
	if len(registry.GetInstances("order-service")) != 0 {
		t.Error("service index still lists deregistered instance")
	}
}

func TestDeregister_NotFound(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	if err := registry.Deregister("missing"); err != domain.ErrInstanceNotFound {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	resp := register(t, registry, "order-service", 5001)
	registry.SetStatus(resp.InstanceID, domain.StatusPassing)

	snapshot := registry.GetPassingInstances("order-service")
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 passing instance, got %d", len(snapshot))
	}

	if _, err := registry.Register(&domain.RegisterRequest{
		InstanceID:  resp.InstanceID,
		ServiceName: "order-service",
		Host:        "10.0.0.9",
		Port:        5002,
	}); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	registry.SetStatus(resp.InstanceID, domain.StatusCritical)

	if got := snapshot[0].Address(); got != "localhost:5001" {
		t.Errorf("snapshot address changed to %s after re-register", got)
	}
	if snapshot[0].Status != domain.StatusPassing {
		t.Errorf("snapshot status changed to %s", snapshot[0].Status)
	}
}

func TestConcurrentReRegisterAndResolve(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	cache := NewInstanceCache()

	resp := register(t, registry, "order-service", 5001)
	registry.SetStatus(resp.InstanceID, domain.StatusPassing)
	cache.Rebuild("order-service", registry.GetPassingInstances("order-service"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, err := registry.Register(&domain.RegisterRequest{
				InstanceID:  resp.InstanceID,
				ServiceName: "order-service",
				Host:        "10.0.0.9",
				Port:        5000 + i,
			})
			if err != nil {
				t.Errorf("re-register failed: %v", err)
				return
			}
			cache.Rebuild("order-service", registry.GetPassingInstances("order-service"))
		}
	}()

	for i := 0; i < 200; i++ {
		instances := cache.Resolve("order-service")
		if len(instances) != 1 {
			t.Fatalf("expected 1 instance, got %d", len(instances))
		}
		_ = instances[0].Address()
	}
	<-done
}

func TestGetService_NotFound(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	if _, err := registry.GetService("ghost-service"); !errors.Is(err, domain.ErrServiceNotFound) {
		t.Errorf("GetService() error = %v, want ErrServiceNotFound", err)
	}

	resp := register(t, registry, "order-service", 5001)
	instances, err := registry.GetService("order-service")
	if err != nil {
		t.Fatalf("GetService() failed: %v", err)
	}
	if len(instances) != 1 || instances[0].ID != resp.InstanceID {
		t.Errorf("GetService() = %v, want the registered instance", instances)
	}
}

func TestGetPassingInstances(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	a := register(t, registry, "order-service", 5001)
	b := register(t, registry, "order-service", 5002)

	registry.SetStatus(a.InstanceID, domain.StatusPassing)
	registry.SetStatus(b.InstanceID, domain.StatusCritical)

	passing := registry.GetPassingInstances("order-service")
	if len(passing) != 1 || passing[0].ID != a.InstanceID {
		t.Errorf("GetPassingInstances() = %v, want only %s", passing, a.InstanceID)
	}
}
