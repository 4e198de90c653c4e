package application

import (
	"log/slog"
	"time"

	"portico/internal/domain"
)

// Start launches the heartbeat expiry loop. This is the safety net for
// instances whose owner died without deregistering: probing governs routing
// eligibility, expiry removes records that stopped heartbeating entirely.
func (r *Registry) Start() {
	go r.expiryLoop()
}

func (r *Registry) Stop() {
	close(r.stopCh)
}

func (r *Registry) expiryLoop() {
	interval := r.config.HeartbeatTTL / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.expire()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var toRemove []*domain.ServiceInstance

	for id, instance := range r.instances {
		elapsed := now.Sub(instance.LastHeartbeat)

		if elapsed > r.config.HeartbeatTTL*2 {
			toRemove = append(toRemove, instance)
			slog.Info("removing expired instance",
				"instance_id", id,
				"service", instance.ServiceName,
				"last_heartbeat", instance.LastHeartbeat,
			)
		} else if elapsed > r.config.HeartbeatTTL && instance.Status == domain.StatusPassing {
			instance.Status = domain.StatusWarning
			slog.Warn("marking instance warning, heartbeat overdue",
				"instance_id", id,
				"service", instance.ServiceName,
				"elapsed", elapsed,
			)
		}
	}

	for _, instance := range toRemove {
		r.unindexLocked(instance)
		delete(r.instances, instance.ID)
	}
}
