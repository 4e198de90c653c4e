package application

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"portico/internal/domain"
)

// Selector picks one instance out of a resolved set. Implementations must be
// goroutine-safe: Select runs on every request.
type Selector interface {
	Select(serviceName string, instances []*domain.ServiceInstance) (*domain.ServiceInstance, error)
	Name() string
}

const (
	StrategyRoundRobin       = "round_robin"
	StrategyRandom           = "random"
	StrategyLeastConnections = "least_connections"
)

func NewSelector(strategy string, tracker *InflightTracker) (Selector, error) {
	switch strategy {
	case StrategyRoundRobin, "":
		return NewRoundRobinSelector(), nil
	case StrategyRandom:
		return &RandomSelector{}, nil
	case StrategyLeastConnections:
		return NewLeastConnectionsSelector(tracker), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", strategy)
	}
}

// Decide wraps a selection into a RoutingDecision for logging and tracing.
func Decide(s Selector, serviceName string, instances []*domain.ServiceInstance) (*domain.ServiceInstance, domain.RoutingDecision, error) {
	instance, err := s.Select(serviceName, instances)
	if err != nil {
		return nil, domain.RoutingDecision{}, err
	}
	return instance, domain.RoutingDecision{
		ServiceName:      serviceName,
		ChosenInstanceID: instance.ID,
		Strategy:         s.Name(),
		Timestamp:        time.Now(),
	}, nil
}

// RoundRobinSelector keeps one monotonic counter per service name so that
// distribution stays fair across services with different instance counts.
// The counter advances atomically on every call regardless of outcome.
type RoundRobinSelector struct {
	counters sync.Map // serviceName -> *atomic.Uint64
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

func (s *RoundRobinSelector) Select(serviceName string, instances []*domain.ServiceInstance) (*domain.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, domain.ErrNoInstancesAvailable
	}

	value, _ := s.counters.LoadOrStore(serviceName, &atomic.Uint64{})
	counter := value.(*atomic.Uint64)

	n := counter.Add(1)
	idx := (n - 1) % uint64(len(instances))
	return instances[idx], nil
}

func (s *RoundRobinSelector) Name() string {
	return StrategyRoundRobin
}

type RandomSelector struct{}

func (s *RandomSelector) Select(_ string, instances []*domain.ServiceInstance) (*domain.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, domain.ErrNoInstancesAvailable
	}
	return instances[rand.IntN(len(instances))], nil
}

func (s *RandomSelector) Name() string {
	return StrategyRandom
}

// InflightTracker counts requests currently being forwarded per instance.
// The dispatcher acquires before forwarding and releases when the upstream
// call finishes; the least-connections strategy reads the counts.
type InflightTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewInflightTracker() *InflightTracker {
	return &InflightTracker{counts: make(map[string]int)}
}

func (t *InflightTracker) Acquire(instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[instanceID]++
}

func (t *InflightTracker) Release(instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[instanceID] <= 1 {
		delete(t.counts, instanceID)
		return
	}
	t.counts[instanceID]--
}

func (t *InflightTracker) Count(instanceID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[instanceID]
}

type LeastConnectionsSelector struct {
	tracker *InflightTracker
}

func NewLeastConnectionsSelector(tracker *InflightTracker) *LeastConnectionsSelector {
	if tracker == nil {
		tracker = NewInflightTracker()
	}
	return &LeastConnectionsSelector{tracker: tracker}
}

func (s *LeastConnectionsSelector) Select(_ string, instances []*domain.ServiceInstance) (*domain.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, domain.ErrNoInstancesAvailable
	}

	best := instances[0]
	bestCount := s.tracker.Count(best.ID)
	for _, instance := range instances[1:] {
		if count := s.tracker.Count(instance.ID); count < bestCount {
			best = instance
			bestCount = count
		}
	}
	return best, nil
}

func (s *LeastConnectionsSelector) Name() string {
	return StrategyLeastConnections
}
