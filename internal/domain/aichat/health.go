package aichat

import (
	"context"
	"time"
)

const healthProbeTimeout = 5 * time.Second

type HealthReport struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Healthy   bool      `json:"healthy"`
	Breaker   string    `json:"breaker,omitempty"`
	Error     string    `json:"error,omitempty"`
	Latency   string    `json:"latency"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Health probes the provider and records the result.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	start := time.Now()
	err := o.provider.Ping(probeCtx)
	report := HealthReport{
		Provider:  o.provider.Name(),
		Model:     o.provider.Model(),
		Healthy:   err == nil,
		Latency:   time.Since(start).Round(time.Millisecond).String(),
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		report.Error = err.Error()
	}
	if br, ok := o.provider.(BreakerReporter); ok {
		report.Breaker = br.BreakerState()
	}

	o.observer.ObserveProviderHealth(report.Provider, report.Healthy)
	o.healthMu.Lock()
	o.lastHealth = &report
	o.healthMu.Unlock()
	return report
}

// LastHealth returns the most recent probe result, if any.
func (o *Orchestrator) LastHealth() (HealthReport, bool) {
	o.healthMu.RLock()
	defer o.healthMu.RUnlock()
	if o.lastHealth == nil {
		return HealthReport{}, false
	}
	return *o.lastHealth, true
}
