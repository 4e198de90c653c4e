package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"portico/internal/domain"
)

type ProberConfig struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	Workers          int
}

// Prober actively health-checks every registered instance on a fixed
// interval. Probes run on a bounded worker pool with an isolated timeout per
// probe, so one slow instance cannot delay the rest of the cycle. After each
// cycle it rebuilds the instance cache from the updated classifications.
type Prober struct {
	config   ProberConfig
	registry *Registry
	cache    *InstanceCache
	client   *http.Client

	mu       sync.Mutex
	failures map[string]int
	results  map[string]domain.HealthCheckResult

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewProber(cfg ProberConfig, registry *Registry, cache *InstanceCache) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 4
	}

	return &Prober{
		config:   cfg,
		registry: registry,
		cache:    cache,
		client:   &http.Client{},
		failures: make(map[string]int),
		results:  make(map[string]domain.HealthCheckResult),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (p *Prober) Start() {
	go p.probeLoop()
}

func (p *Prober) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Prober) probeLoop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.RunCycle(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

// RunCycle probes every registered instance once and rebuilds the cache.
// Exported so tests and operators can force a cycle without waiting for the
// ticker.
func (p *Prober) RunCycle(ctx context.Context) {
	services := p.registry.GetAllServices()

	jobs := make(chan *domain.ServiceInstance)
	var wg sync.WaitGroup

	for w := 0; w < p.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for instance := range jobs {
				result := p.probe(ctx, instance)
				p.apply(instance, result)
			}
		}()
	}

	for _, instances := range services {
		for _, instance := range instances {
			jobs <- instance
		}
	}
	close(jobs)
	wg.Wait()

	for name := range services {
		p.cache.Rebuild(name, p.registry.GetPassingInstances(name))
	}
	for _, name := range p.cache.Services() {
		if _, ok := services[name]; !ok {
			p.cache.Drop(name)
		}
	}
	p.prune(services)
}

func (p *Prober) probe(ctx context.Context, instance *domain.ServiceInstance) domain.HealthCheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	result := domain.HealthCheckResult{
		InstanceID:  instance.ID,
		ServiceName: instance.ServiceName,
	}

	url := fmt.Sprintf("http://%s%s", instance.Address(), instance.HealthURL)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = domain.StatusCritical
		result.Detail = err.Error()
		result.LastCheckedAt = time.Now()
		return result
	}

	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	result.LastCheckedAt = time.Now()

	if err != nil {
		result.Status = domain.StatusCritical
		result.Detail = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Status = domain.StatusCritical
		result.Detail = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	result.Status = domain.StatusPassing
	return result
}

// apply folds one probe outcome into the consecutive-failure counter and the
// registry's classification. Recovery is asymmetric: a single passing probe
// restores an instance immediately, while demotion to critical requires the
// configured streak of failures so transient blips do not cause flapping.
func (p *Prober) apply(instance *domain.ServiceInstance, result domain.HealthCheckResult) {
	previous := domain.StatusUnknown
	if current := p.registry.GetInstance(instance.ID); current != nil {
		previous = current.Status
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if result.Status == domain.StatusPassing {
		p.failures[instance.ID] = 0
	} else {
		p.failures[instance.ID]++
		switch {
		case p.failures[instance.ID] >= p.config.FailureThreshold:
			result.Status = domain.StatusCritical
		case previous == domain.StatusPassing:
			// Still under the threshold: keep routing to it.
			result.Status = domain.StatusPassing
		default:
			result.Status = domain.StatusWarning
		}
	}

	p.results[instance.ID] = result
	p.registry.SetStatus(instance.ID, result.Status)

	if previous != result.Status {
		slog.Info("instance health transition",
			"instance_id", instance.ID,
			"service", instance.ServiceName,
			"from", previous,
			"to", result.Status,
			"detail", result.Detail,
		)
	}
}

// LastResult returns the latest probe outcome for an instance, if any.
func (p *Prober) LastResult(instanceID string) (domain.HealthCheckResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result, ok := p.results[instanceID]
	return result, ok
}

func (p *Prober) prune(services map[string][]*domain.ServiceInstance) {
	known := make(map[string]struct{})
	for _, instances := range services {
		for _, instance := range instances {
			known[instance.ID] = struct{}{}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.failures {
		if _, ok := known[id]; !ok {
			delete(p.failures, id)
			delete(p.results, id)
		}
	}
}
