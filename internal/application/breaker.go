package application

import (
	"log/slog"
	"sync"
	"time"

	"portico/internal/domain"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// CircuitBreaker guards dispatch per logical service name. Consecutive
// dispatch failures across all instances open the circuit; while open every
// call fails fast without touching the network. Once the cool-down elapses a
// single trial call is let through, and its outcome decides whether the
// circuit closes again or re-opens.
type CircuitBreaker struct {
	config BreakerConfig
	now    func() time.Time

	mu     sync.Mutex
	states map[string]*breakerEntry
}

type breakerEntry struct {
	state    BreakerState
	failures int
	openedAt time.Time
	trialing bool
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		config: cfg,
		now:    time.Now,
		states: make(map[string]*breakerEntry),
	}
}

// Allow reports whether a dispatch for the service may proceed. It performs
// the Open to HalfOpen transition when the cool-down has elapsed, admitting
// exactly one trial call; concurrent callers during the trial are rejected.
func (b *CircuitBreaker) Allow(serviceName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entryLocked(serviceName)

	switch entry.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(entry.openedAt) < b.config.Cooldown {
			return domain.ErrCircuitOpen
		}
		entry.state = BreakerHalfOpen
		entry.trialing = true
		slog.Info("circuit half-open, admitting trial call", "service", serviceName)
		return nil
	case BreakerHalfOpen:
		if entry.trialing {
			return domain.ErrCircuitOpen
		}
		entry.trialing = true
		return nil
	}
	return nil
}

func (b *CircuitBreaker) RecordSuccess(serviceName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entryLocked(serviceName)
	if entry.state != BreakerClosed {
		slog.Info("circuit closed", "service", serviceName)
	}
	entry.state = BreakerClosed
	entry.failures = 0
	entry.trialing = false
}

func (b *CircuitBreaker) RecordFailure(serviceName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entryLocked(serviceName)

	switch entry.state {
	case BreakerHalfOpen:
		entry.state = BreakerOpen
		entry.openedAt = b.now()
		entry.trialing = false
		slog.Warn("trial call failed, circuit re-opened", "service", serviceName)
	case BreakerClosed:
		entry.failures++
		if entry.failures >= b.config.FailureThreshold {
			entry.state = BreakerOpen
			entry.openedAt = b.now()
			slog.Warn("circuit opened",
				"service", serviceName,
				"consecutive_failures", entry.failures,
				"cooldown", b.config.Cooldown,
			)
		}
	}
}

func (b *CircuitBreaker) State(serviceName string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.entryLocked(serviceName).state
}

func (b *CircuitBreaker) entryLocked(serviceName string) *breakerEntry {
	entry, ok := b.states[serviceName]
	if !ok {
		entry = &breakerEntry{state: BreakerClosed}
		b.states[serviceName] = entry
	}
	return entry
}
