package application

import (
	"testing"

	"portico/internal/domain"
)

func TestInstanceCache_ResolveUnknown(t *testing.T) {
	cache := NewInstanceCache()

	if got := cache.Resolve("order-service"); len(got) != 0 {
		t.Errorf("Resolve() on empty cache = %v, want empty", got)
	}
}

func TestInstanceCache_RebuildReplacesAtomically(t *testing.T) {
	cache := NewInstanceCache()

	cache.Rebuild("order-service", testInstances(3))
	if got := len(cache.Resolve("order-service")); got != 3 {
		t.Fatalf("Resolve() returned %d instances, want 3", got)
	}

	cache.Rebuild("order-service", testInstances(1))
	if got := len(cache.Resolve("order-service")); got != 1 {
		t.Errorf("Resolve() after rebuild returned %d instances, want 1", got)
	}
}

func TestInstanceCache_RebuildEmptyRemovesService(t *testing.T) {
	cache := NewInstanceCache()

	cache.Rebuild("order-service", testInstances(2))
	cache.Rebuild("order-service", nil)

	if got := cache.Resolve("order-service"); len(got) != 0 {
		t.Errorf("Resolve() = %v, want empty after rebuilding with no passing instances", got)
	}
	if got := cache.Services(); len(got) != 0 {
		t.Errorf("Services() = %v, want empty", got)
	}
}

func TestInstanceCache_Drop(t *testing.T) {
	cache := NewInstanceCache()

	cache.Rebuild("order-service", testInstances(2))
	cache.Rebuild("payment-service", testInstances(1))
	cache.Drop("order-service")

	if got := cache.Resolve("order-service"); len(got) != 0 {
		t.Errorf("Resolve() after Drop = %v, want empty", got)
	}
	if got := cache.Resolve("payment-service"); len(got) != 1 {
		t.Errorf("Drop removed the wrong service, payment-service = %v", got)
	}
}

func TestInstanceCache_ConcurrentReadWrite(t *testing.T) {
	cache := NewInstanceCache()
	instances := testInstances(3)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			cache.Rebuild("order-service", instances)
		}
	}()

	for i := 0; i < 1000; i++ {
		got := cache.Resolve("order-service")
		if len(got) != 0 && len(got) != 3 {
			t.Fatalf("reader observed partial snapshot of %d instances", len(got))
		}
	}
	<-done
}

func TestInstanceCache_SnapshotIsStable(t *testing.T) {
	cache := NewInstanceCache()

	first := testInstances(2)
	cache.Rebuild("order-service", first)

	snapshot := cache.Resolve("order-service")
	cache.Rebuild("order-service", testInstances(1))

	// The old snapshot stays intact for readers that grabbed it.
	if len(snapshot) != 2 {
		t.Errorf("previously resolved snapshot mutated, len = %d", len(snapshot))
	}
}

func TestInstanceCache_NeverContainsNonPassing(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	cache := NewInstanceCache()

	a := register(t, registry, "order-service", 5001)
	b := register(t, registry, "order-service", 5002)
	registry.SetStatus(a.InstanceID, domain.StatusPassing)
	registry.SetStatus(b.InstanceID, domain.StatusCritical)

	cache.Rebuild("order-service", registry.GetPassingInstances("order-service"))

	for _, instance := range cache.Resolve("order-service") {
		if !instance.IsPassing() {
			t.Errorf("cache contains non-passing instance %s (%s)", instance.ID, instance.Status)
		}
	}
}
