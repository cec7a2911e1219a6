package monitoring

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Monitor tracks the outcome of relay work: remote analyses and scheduled
// sweeps.
type Monitor struct {
	mu             sync.RWMutex
	lastRunSuccess bool
	lastRunTime    time.Time
	lastError      string
	successes      int
	failures       int
}

// Stats is the snapshot served on /status.
type Stats struct {
	Healthy     bool      `json:"healthy"`
	Summary     string    `json:"summary"`
	LastRunTime time.Time `json:"lastRunTime,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) RecordSuccess(summary string, duration time.Duration) {
	m.mu.Lock()
	m.lastRunSuccess = true
	m.lastRunTime = time.Now()
	m.lastError = ""
	m.successes++
	m.mu.Unlock()

	slog.Info("run completed", slog.String("summary", summary), slog.Duration("took", duration))
}

// RecordPartialFailure logs a failure caused by the caller, such as a missing
// credential. Health is unchanged.
func (m *Monitor) RecordPartialFailure(err error, duration time.Duration) {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()

	slog.Warn("partial failure", slog.Any("error", err), slog.Duration("took", duration))
}

func (m *Monitor) RecordCriticalFailure(err error, duration time.Duration) {
	m.mu.Lock()
	m.lastRunSuccess = false
	m.lastRunTime = time.Now()
	m.lastError = err.Error()
	m.failures++
	m.mu.Unlock()

	slog.Error("critical failure", slog.Any("error", err), slog.Duration("took", duration))
}

func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *Monitor) healthyLocked() bool {
	if m.lastRunTime.IsZero() {
		return true // No runs yet, assume healthy
	}
	return m.lastRunSuccess
}

func (m *Monitor) GetStatusSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summaryLocked()
}

func (m *Monitor) summaryLocked() string {
	if m.lastRunTime.IsZero() {
		return "No runs yet"
	}
	if m.lastRunSuccess {
		return fmt.Sprintf("✅ Last run: %s", m.lastRunTime.Format("Jan 2 15:04"))
	}
	return fmt.Sprintf("❌ Last run failed: %s", m.lastRunTime.Format("Jan 2 15:04"))
}

func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Healthy:     m.healthyLocked(),
		Summary:     m.summaryLocked(),
		LastRunTime: m.lastRunTime,
		LastError:   m.lastError,
		Successes:   m.successes,
		Failures:    m.failures,
	}
}
