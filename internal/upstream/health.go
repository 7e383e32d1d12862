package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// ProviderStatus represents the health state of a data provider
type ProviderStatus string

const (
	ProviderStatusHealthy  ProviderStatus = "healthy"
	ProviderStatusDegraded ProviderStatus = "degraded"
	ProviderStatusFailed   ProviderStatus = "failed"
)

// ProviderHealth tracks provider reliability and latency
type ProviderHealth struct {
	mu                sync.RWMutex
	name              string
	status            ProviderStatus
	lastSuccessful    time.Time
	lastError         time.Time
	lastErrorMessage  string
	errorCount        int64
	successCount      int64
	consecutiveErrors int
	latencyEMA        time.Duration
	now               func() time.Time

	// Health thresholds
	degradedErrorRate    float64       // 0.01 = 1%
	failedErrorRate      float64       // 0.10 = 10%
	maxConsecutiveErrors int           // 5
	recoveryWindow       time.Duration // 5 minutes
}

// NewProviderHealth creates a new provider health monitor
func NewProviderHealth(name string) *ProviderHealth {
	return &ProviderHealth{
		name:                 name,
		status:               ProviderStatusHealthy,
		now:                  time.Now,
		degradedErrorRate:    0.01,
		failedErrorRate:      0.10,
		maxConsecutiveErrors: 5,
		recoveryWindow:       5 * time.Minute,
	}
}

// RecordSuccess records a successful operation
func (ph *ProviderHealth) RecordSuccess(latency time.Duration) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastSuccessful = ph.now()
	ph.successCount++
	ph.consecutiveErrors = 0
	ph.updateLatency(latency)

	if ph.status != ProviderStatusHealthy && ph.shouldRecover() {
		ph.transition(ProviderStatusHealthy)
	}

	observ.IncCounter("provider_operations_total", map[string]string{"provider": ph.name, "result": "success"})
	observ.SetGauge("provider_status", ph.statusToFloat(), map[string]string{"provider": ph.name})
}

// RecordError records a failed operation
func (ph *ProviderHealth) RecordError(err error) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastError = ph.now()
	ph.errorCount++
	ph.consecutiveErrors++
	if err != nil {
		ph.lastErrorMessage = err.Error()
	}

	if next := ph.nextStatus(); next != ph.status {
		ph.transition(next)
	}

	observ.IncCounter("provider_operations_total", map[string]string{"provider": ph.name, "result": "error"})
	observ.SetGauge("provider_status", ph.statusToFloat(), map[string]string{"provider": ph.name})
}

// Status returns the current provider status
func (ph *ProviderHealth) Status() ProviderStatus {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.status
}

// HealthSnapshot is the provider section of the health report
type HealthSnapshot struct {
	Provider          string         `json:"provider"`
	Status            ProviderStatus `json:"status"`
	ErrorRate         float64        `json:"error_rate"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	SuccessCount      int64          `json:"success_count"`
	ErrorCount        int64          `json:"error_count"`
	LatencyMs         int64          `json:"latency_ms"`
	LastSuccessful    *time.Time     `json:"last_successful,omitempty"`
	LastError         *time.Time     `json:"last_error,omitempty"`
	LastErrorMessage  string         `json:"last_error_message,omitempty"`
}

// Snapshot returns current health metrics
func (ph *ProviderHealth) Snapshot() HealthSnapshot {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	s := HealthSnapshot{
		Provider:          ph.name,
		Status:            ph.status,
		ErrorRate:         ph.errorRate(),
		ConsecutiveErrors: ph.consecutiveErrors,
		SuccessCount:      ph.successCount,
		ErrorCount:        ph.errorCount,
		LatencyMs:         ph.latencyEMA.Milliseconds(),
		LastErrorMessage:  ph.lastErrorMessage,
	}
	if !ph.lastSuccessful.IsZero() {
		t := ph.lastSuccessful
		s.LastSuccessful = &t
	}
	if !ph.lastError.IsZero() {
		t := ph.lastError
		s.LastError = &t
	}
	return s
}

func (ph *ProviderHealth) errorRate() float64 {
	total := ph.successCount + ph.errorCount
	if total == 0 {
		return 0
	}
	return float64(ph.errorCount) / float64(total)
}

// nextStatus calculates the status after an error
func (ph *ProviderHealth) nextStatus() ProviderStatus {
	if ph.consecutiveErrors >= ph.maxConsecutiveErrors {
		return ProviderStatusFailed
	}
	switch rate := ph.errorRate(); {
	case rate >= ph.failedErrorRate:
		return ProviderStatusFailed
	case rate >= ph.degradedErrorRate:
		return ProviderStatusDegraded
	}
	return ph.status
}

// shouldRecover requires a quiet period with no errors before going healthy
func (ph *ProviderHealth) shouldRecover() bool {
	return ph.consecutiveErrors == 0 && ph.now().Sub(ph.lastError) >= ph.recoveryWindow
}

func (ph *ProviderHealth) transition(to ProviderStatus) {
	from := ph.status
	ph.status = to
	observ.IncCounter("provider_status_change_total", map[string]string{
		"provider": ph.name,
		"from":     string(from),
		"to":       string(to),
	})
	observ.Warn("provider_status_changed", map[string]any{
		"provider":           ph.name,
		"from":               string(from),
		"to":                 string(to),
		"consecutive_errors": ph.consecutiveErrors,
	})
}

// updateLatency keeps an exponential moving average
func (ph *ProviderHealth) updateLatency(latency time.Duration) {
	if ph.latencyEMA == 0 {
		ph.latencyEMA = latency
	} else {
		alpha := 0.1
		ph.latencyEMA = time.Duration(float64(ph.latencyEMA)*(1-alpha) + float64(latency)*alpha)
	}
	observ.RecordDuration("provider_latency", latency, map[string]string{"provider": ph.name})
}

func (ph *ProviderHealth) statusToFloat() float64 {
	switch ph.status {
	case ProviderStatusHealthy:
		return 1.0
	case ProviderStatusDegraded:
		return 0.5
	default:
		return 0.0
	}
}

// Monitored records every call of the wrapped source in a ProviderHealth.
// Terminal errors (unknown symbol, unsupported call) say nothing about the
// provider's availability and are not counted.
type Monitored struct {
	Source
	health *ProviderHealth
}

// NewMonitored wraps src with a fresh health monitor
func NewMonitored(src Source) *Monitored {
	return &Monitored{Source: src, health: NewProviderHealth(src.Name())}
}

func (m *Monitored) Health() *ProviderHealth { return m.health }

func (m *Monitored) Details(ctx context.Context, symbol string) (market.StockDetails, error) {
	start := time.Now()
	d, err := m.Source.Details(ctx, symbol)
	m.record(start, err)
	return d, err
}

func (m *Monitored) History(ctx context.Context, symbol string, tf market.Timeframe) (market.HistoricalSeries, error) {
	start := time.Now()
	s, err := m.Source.History(ctx, symbol, tf)
	m.record(start, err)
	return s, err
}

func (m *Monitored) IndexLevel(ctx context.Context, symbol string) (market.IndexLevel, error) {
	start := time.Now()
	l, err := m.Source.IndexLevel(ctx, symbol)
	m.record(start, err)
	return l, err
}

func (m *Monitored) Headlines(ctx context.Context, symbol string, limit int) (market.NewsFeed, error) {
	start := time.Now()
	f, err := m.Source.Headlines(ctx, symbol, limit)
	m.record(start, err)
	return f, err
}

func (m *Monitored) record(start time.Time, err error) {
	switch {
	case err == nil:
		m.health.RecordSuccess(time.Since(start))
	case market.IsTerminal(err):
	default:
		m.health.RecordError(err)
	}
}
