package health

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

// SessionResetter is implemented by the fetch layer so recovery actions can
// drop the connection pool without the monitor knowing about transports.
type SessionResetter interface {
	ResetSession()
}

// CacheFlusher is implemented by components holding in-memory caches that
// are safe to throw away under cpu pressure.
type CacheFlusher interface {
	FlushCaches()
}

// Monitor samples system resources on a timer and runs bounded recovery
// actions when thresholds are crossed. It is injected into the gate and the
// crawl worker explicitly; there is no package-level instance.
type Monitor struct {
	cfg      *config.HealthConfig
	sampler  Sampler
	resetter SessionResetter
	flusher  CacheFlusher
	wg       *sync.WaitGroup

	// recoveryCnt feeds telemetry. May be nil.
	recoveryCnt func(count int64)

	mu                  sync.Mutex
	samples             []model.HealthSample
	recoveries          []model.RecoveryRecord
	consecutiveFailures int
	networkErrorCount   int
}

func NewMonitor(cfg *config.HealthConfig, sampler Sampler, resetter SessionResetter,
	flusher CacheFlusher, wg *sync.WaitGroup) *Monitor {
	return &Monitor{
		cfg:        cfg,
		sampler:    sampler,
		resetter:   resetter,
		flusher:    flusher,
		wg:         wg,
		samples:    make([]model.HealthSample, 0, cfg.SampleBufferSize),
		recoveries: make([]model.RecoveryRecord, 0, cfg.RecoveryBufferSize),
	}
}

func (m *Monitor) SetRecoveryCounter(count func(count int64)) {
	m.recoveryCnt = count
}

func (m *Monitor) Run(ctx context.Context) {
	defer m.wg.Done()
	slog.Debug("starting health monitor.", slog.Duration("interval", m.cfg.SampleInterval))

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping health monitor.")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	memoryPct, cpuPct, diskPct, err := m.sampler.Sample()
	if err != nil {
		slog.Warn("health sampling failed.", slog.String("err", err.Error()))
		return
	}

	m.mu.Lock()
	sample := model.HealthSample{
		Timestamp:           time.Now().UTC(),
		MemoryPct:           memoryPct,
		CpuPct:              cpuPct,
		DiskPct:             diskPct,
		NetworkErrorCount:   m.networkErrorCount,
		ConsecutiveFailures: m.consecutiveFailures,
	}
	m.samples = append(m.samples, sample)
	if len(m.samples) > m.cfg.SampleBufferSize {
		m.samples = m.samples[len(m.samples)-m.cfg.SampleBufferSize:]
	}
	failures := m.consecutiveFailures
	m.mu.Unlock()

	// Each threshold triggers independently. Recovery runs below the hard
	// unhealthy cutoffs so the gate usually never has to close.
	if memoryPct > m.cfg.MemoryThresholdPct {
		slog.Warn("memory threshold crossed.", slog.Float64("memory_pct", memoryPct))
		m.runRecovery(model.MemoryRecovery, m.memoryRecovery)
	}
	if cpuPct > m.cfg.CpuThresholdPct {
		slog.Warn("cpu threshold crossed.", slog.Float64("cpu_pct", cpuPct))
		m.runRecovery(model.CpuRecovery, func() error { return m.cpuRecovery(ctx) })
	}
	if diskPct > m.cfg.DiskThresholdPct {
		slog.Warn("disk threshold crossed.", slog.Float64("disk_pct", diskPct))
		m.runRecovery(model.DiskRecovery, m.diskRecovery)
	}
	if failures > m.cfg.FailureRecoveryThreshold {
		slog.Warn("consecutive failures threshold crossed.", slog.Int("failures", failures))
		m.runRecovery(model.FailureRecovery, func() error { return m.failureRecovery(ctx) })
	}
}

// runRecovery records the outcome regardless of success. Recovery actions
// are best-effort and never propagate errors to the crawl loop.
func (m *Monitor) runRecovery(actionType string, action func() error) {
	err := action()
	if err != nil {
		slog.Error("recovery action failed.", slog.String("action", actionType),
			slog.String("err", err.Error()))
	} else {
		slog.Info("recovery action finished.", slog.String("action", actionType))
	}

	m.mu.Lock()
	m.recoveries = append(m.recoveries, model.RecoveryRecord{
		Timestamp:  time.Now().UTC(),
		ActionType: actionType,
		Succeeded:  err == nil,
	})
	if len(m.recoveries) > m.cfg.RecoveryBufferSize {
		m.recoveries = m.recoveries[len(m.recoveries)-m.cfg.RecoveryBufferSize:]
	}
	m.mu.Unlock()

	if m.recoveryCnt != nil {
		m.recoveryCnt(1)
	}
}

func (m *Monitor) memoryRecovery() error {
	runtime.GC()

	m.mu.Lock()
	m.samples = m.samples[len(m.samples)/2:]
	m.recoveries = m.recoveries[len(m.recoveries)/2:]
	m.mu.Unlock()

	if m.resetter != nil {
		m.resetter.ResetSession()
	}
	return nil
}

func (m *Monitor) cpuRecovery(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.CpuRecoverySleep):
	}
	if m.flusher != nil {
		m.flusher.FlushCaches()
	}
	return nil
}

func (m *Monitor) diskRecovery() error {
	pattern := filepath.Join(os.TempDir(), m.cfg.TempFilePrefix+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	var lastErr error
	for _, match := range matches {
		if err := os.RemoveAll(match); err != nil {
			lastErr = err
		}
	}
	slog.Debug("temp files removed.", slog.Int("count", len(matches)))
	return lastErr
}

func (m *Monitor) failureRecovery(ctx context.Context) error {
	m.mu.Lock()
	m.consecutiveFailures = 0
	m.networkErrorCount = 0
	m.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.FailureRecoverySleep):
	}
	if m.resetter != nil {
		m.resetter.ResetSession()
	}
	return nil
}

// IsHealthy derives the gate state from the latest sample on demand.
// There is no stored open/closed flag; once recovery brings the metrics
// back under the cutoffs the next call reports healthy again.
func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures > m.cfg.UnhealthyConsecutiveFailures {
		return false
	}
	if len(m.samples) == 0 {
		return true
	}
	last := m.samples[len(m.samples)-1]

	return last.MemoryPct <= m.cfg.UnhealthyMemoryPct && last.CpuPct <= m.cfg.UnhealthyCpuPct
}

func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveFailures++
	m.networkErrorCount++
}

func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveFailures = 0
}

func (m *Monitor) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

func (m *Monitor) LastSample() *model.HealthSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return nil
	}
	last := m.samples[len(m.samples)-1]
	return &last
}

func (m *Monitor) RecentRecoveries() []model.RecoveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	recent := make([]model.RecoveryRecord, len(m.recoveries))
	copy(recent, m.recoveries)
	return recent
}

func (m *Monitor) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}
