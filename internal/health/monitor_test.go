package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

type stubSampler struct {
	mem, cpu, disk float64
}

func (s *stubSampler) Sample() (float64, float64, float64, error) {
	return s.mem, s.cpu, s.disk, nil
}

type stubResetter struct {
	calls int
}

func (r *stubResetter) ResetSession() { r.calls++ }

type stubFlusher struct {
	calls int
}

func (f *stubFlusher) FlushCaches() { f.calls++ }

func testHealthConfig() *config.HealthConfig {
	return &config.HealthConfig{
		SampleInterval:               10 * time.Millisecond,
		MemoryThresholdPct:           85,
		CpuThresholdPct:              90,
		DiskThresholdPct:             95,
		UnhealthyMemoryPct:           95,
		UnhealthyCpuPct:              95,
		UnhealthyConsecutiveFailures: 10,
		FailureRecoveryThreshold:     5,
		SampleBufferSize:             100,
		RecoveryBufferSize:           20,
		DiskPath:                     "/",
		TempFilePrefix:               "crawl-scheduler-test-",
		CpuRecoverySleep:             time.Millisecond,
		FailureRecoverySleep:         time.Millisecond,
	}
}

func newTestMonitor(sampler Sampler) *Monitor {
	return NewMonitor(testHealthConfig(), sampler, nil, nil, &sync.WaitGroup{})
}

func TestIsHealthyWithoutSamples(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&stubSampler{})
	if !m.IsHealthy() {
		t.Error("expected a monitor with no samples to report healthy")
	}
}

func TestIsHealthyFromLastSample(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		mem, cpu float64
		expected bool
	}{
		{"all nominal", 50, 50, true},
		{"memory high but below cutoff", 90, 50, true},
		{"memory at cutoff", 95, 50, true},
		{"memory above cutoff", 96, 50, false},
		{"cpu above cutoff", 50, 96, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newTestMonitor(&stubSampler{mem: tc.mem, cpu: tc.cpu, disk: 10})
			m.tick(context.Background())
			if got := m.IsHealthy(); got != tc.expected {
				t.Errorf("IsHealthy() = %v, expected %v", got, tc.expected)
			}
		})
	}
}

func TestIsHealthyConsecutiveFailures(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&stubSampler{})
	for i := 0; i < 10; i++ {
		m.RecordFailure()
	}
	if !m.IsHealthy() {
		t.Error("expected healthy at exactly 10 consecutive failures")
	}
	m.RecordFailure()
	if m.IsHealthy() {
		t.Error("expected unhealthy above 10 consecutive failures")
	}
	m.RecordSuccess()
	if !m.IsHealthy() {
		t.Error("expected healthy again after a success reset the streak")
	}
}

func TestSingleThresholdTriggersSingleRecovery(t *testing.T) {
	t.Parallel()

	// Memory above 85 but cpu and disk nominal.
	m := newTestMonitor(&stubSampler{mem: 90, cpu: 50, disk: 10})
	m.tick(context.Background())

	recoveries := m.RecentRecoveries()
	if len(recoveries) != 1 {
		t.Fatalf("recovery count = %d, expected exactly 1", len(recoveries))
	}
	if recoveries[0].ActionType != model.MemoryRecovery {
		t.Errorf("action type = %q, expected %q", recoveries[0].ActionType, model.MemoryRecovery)
	}
	if !recoveries[0].Succeeded {
		t.Error("expected the memory recovery to be recorded as succeeded")
	}
}

func TestMemoryRecoveryTrimsSampleBuffer(t *testing.T) {
	t.Parallel()

	sampler := &stubSampler{mem: 50, cpu: 50, disk: 10}
	m := newTestMonitor(sampler)
	for i := 0; i < 49; i++ {
		m.tick(context.Background())
	}
	if got := m.SampleCount(); got != 49 {
		t.Fatalf("sample count = %d, expected 49 before recovery", got)
	}

	sampler.mem = 90
	m.tick(context.Background())

	if got := m.SampleCount(); got > 25 {
		t.Errorf("sample count = %d, expected at most 25 after memory recovery", got)
	}
}

func TestMemoryRecoveryResetsSession(t *testing.T) {
	t.Parallel()

	resetter := &stubResetter{}
	m := NewMonitor(testHealthConfig(), &stubSampler{mem: 90, cpu: 50, disk: 10},
		resetter, nil, &sync.WaitGroup{})
	m.tick(context.Background())

	if resetter.calls != 1 {
		t.Errorf("session resets = %d, expected 1", resetter.calls)
	}
}

func TestCpuRecoveryFlushesCaches(t *testing.T) {
	t.Parallel()

	flusher := &stubFlusher{}
	m := NewMonitor(testHealthConfig(), &stubSampler{mem: 50, cpu: 95, disk: 10},
		nil, flusher, &sync.WaitGroup{})
	m.tick(context.Background())

	if flusher.calls != 1 {
		t.Errorf("cache flushes = %d, expected 1", flusher.calls)
	}
	recoveries := m.RecentRecoveries()
	if len(recoveries) != 1 || recoveries[0].ActionType != model.CpuRecovery {
		t.Errorf("recoveries = %+v, expected a single cpu recovery", recoveries)
	}
}

func TestFailureRecoveryResetsCounters(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&stubSampler{mem: 50, cpu: 50, disk: 10})
	for i := 0; i < 6; i++ {
		m.RecordFailure()
	}
	// 6 failures is above the recovery threshold but below the gate cutoff.
	if !m.IsHealthy() {
		t.Fatal("expected healthy at 6 consecutive failures")
	}

	m.tick(context.Background())

	if got := m.ConsecutiveFailures(); got != 0 {
		t.Errorf("consecutive failures = %d, expected 0 after recovery", got)
	}
	recoveries := m.RecentRecoveries()
	if len(recoveries) != 1 || recoveries[0].ActionType != model.FailureRecovery {
		t.Errorf("recoveries = %+v, expected a single failure recovery", recoveries)
	}
}

func TestRecoveryBufferIsBounded(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&stubSampler{mem: 50, cpu: 50, disk: 96})
	for i := 0; i < 30; i++ {
		m.tick(context.Background())
	}

	if got := len(m.RecentRecoveries()); got > 20 {
		t.Errorf("recovery buffer length = %d, expected at most 20", got)
	}
}

func TestSampleBufferIsBounded(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&stubSampler{mem: 50, cpu: 50, disk: 10})
	for i := 0; i < 120; i++ {
		m.tick(context.Background())
	}

	if got := m.SampleCount(); got > 100 {
		t.Errorf("sample buffer length = %d, expected at most 100", got)
	}
}

func TestRecoveryCounterFeedsTelemetry(t *testing.T) {
	t.Parallel()

	var counted int64
	m := newTestMonitor(&stubSampler{mem: 90, cpu: 50, disk: 10})
	m.SetRecoveryCounter(func(count int64) { counted += count })
	m.tick(context.Background())

	if counted != 1 {
		t.Errorf("recovery counter total = %d, expected 1", counted)
	}
}

func TestLastSampleCarriesFailureCounters(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&stubSampler{mem: 50, cpu: 50, disk: 10})
	m.RecordFailure()
	m.RecordFailure()
	m.tick(context.Background())

	sample := m.LastSample()
	if sample == nil {
		t.Fatal("expected a sample after one tick")
	}
	if sample.ConsecutiveFailures != 2 || sample.NetworkErrorCount != 2 {
		t.Errorf("sample counters = %d/%d, expected 2/2",
			sample.ConsecutiveFailures, sample.NetworkErrorCount)
	}
}
