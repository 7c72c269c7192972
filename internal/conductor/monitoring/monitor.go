package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/autoqa-project/conductor/internal/common/util"
	"github.com/autoqa-project/conductor/internal/conductor/configuration"
	"github.com/autoqa-project/conductor/internal/conductor/domain"
	"github.com/autoqa-project/conductor/internal/conductor/metrics"
)

// Conservative values assumed when a measurement attempt fails: moderate
// usage, so the scheduler neither stalls nor scales up on bad data.
const (
	fallbackUsedPercent = 75.0
	fallbackAvailableMb = 1024.0
	fallbackCpuPercent  = 50.0
)

const healthyPollInterval = time.Second

// PressureCallback is invoked on every pressure-level transition with the
// previous and the new level.
type PressureCallback func(old, new domain.MemoryPressure)

// Monitor periodically samples host memory and CPU, classifies pressure
// and computes the recommended parallelism. The most recent snapshot is
// cached and safely readable at any time; it is advisory, never
// authoritative.
type Monitor struct {
	config  configuration.ConcurrencyConfig
	sampler Sampler
	clock   util.Clock
	log     *logrus.Entry

	mu          sync.Mutex
	last        *domain.ResourceSnapshot
	subscribers []PressureCallback

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(config configuration.ConcurrencyConfig, sampler Sampler, clock util.Clock) *Monitor {
	if sampler == nil {
		sampler = NewSystemSampler()
	}
	if clock == nil {
		clock = &util.DefaultClock{}
	}
	return &Monitor{
		config:  config,
		sampler: sampler,
		clock:   clock,
		log:     logrus.StandardLogger().WithField("service", "ResourceMonitor"),
	}
}

// ClassifyPressure is the deterministic pressure ladder. The critical and
// hard-floor checks take precedence over the percentage thresholds, in
// exactly this order.
func ClassifyPressure(usedPercent, availableMb float64, limits configuration.ResourceLimits) domain.MemoryPressure {
	switch {
	case usedPercent >= limits.CriticalMemoryPercent:
		return domain.PressureCritical
	case availableMb < limits.MinAvailableMemoryMb:
		return domain.PressureHigh
	case usedPercent >= limits.MaxMemoryPercent:
		return domain.PressureHigh
	case usedPercent >= 0.9*limits.MaxMemoryPercent:
		return domain.PressureMedium
	case usedPercent >= 0.8*limits.MaxMemoryPercent:
		return domain.PressureLow
	}
	return domain.PressureNone
}

// RecommendedParallelism is non-increasing in pressure for fixed
// resources.
func (m *Monitor) RecommendedParallelism(availableMb float64, pressure domain.MemoryPressure) int {
	maxParallel := m.config.MaxParallel
	ceiling := int(availableMb / m.config.Limits.ContextMemoryEstimateMb)
	if ceiling < 1 {
		ceiling = 1
	}

	var n int
	switch pressure {
	case domain.PressureNone:
		n = minInt(maxParallel, ceiling)
	case domain.PressureLow:
		n = minInt(maxParallel, ceiling, maxParallel-1)
	case domain.PressureMedium:
		n = minInt(maxParallel/2, ceiling, maxParallel-2)
	case domain.PressureHigh:
		n = minInt(2, ceiling, maxParallel/3)
	case domain.PressureCritical:
		return 1
	default:
		return 1
	}
	if n < 1 {
		n = 1
	}
	return n
}

// TakeSnapshot measures, classifies and caches a fresh snapshot. A failed
// measurement falls back to conservative defaults rather than propagating;
// a single flaky reading never halts the scheduler.
func (m *Monitor) TakeSnapshot() *domain.ResourceSnapshot {
	sample, err := m.sampler.Sample()
	if err != nil {
		m.log.WithError(err).Warn("resource sampling failed, assuming moderate usage")
		sample = Sample{
			MemoryUsedPercent: fallbackUsedPercent,
			MemoryAvailableMb: fallbackAvailableMb,
			CpuPercent:        fallbackCpuPercent,
		}
	}

	pressure := ClassifyPressure(sample.MemoryUsedPercent, sample.MemoryAvailableMb, m.config.Limits)
	snapshot := &domain.ResourceSnapshot{
		Timestamp:              m.clock.Now(),
		MemoryUsedPercent:      sample.MemoryUsedPercent,
		MemoryAvailableMb:      sample.MemoryAvailableMb,
		MemoryTotalMb:          sample.MemoryTotalMb,
		CpuPercent:             sample.CpuPercent,
		MemoryPressure:         pressure,
		RecommendedParallelism: m.RecommendedParallelism(sample.MemoryAvailableMb, pressure),
	}

	m.mu.Lock()
	m.last = snapshot
	m.mu.Unlock()

	metrics.RecordResourceSnapshot(
		snapshot.MemoryUsedPercent,
		snapshot.MemoryAvailableMb,
		snapshot.CpuPercent,
		int(snapshot.MemoryPressure),
		snapshot.RecommendedParallelism,
	)
	return snapshot
}

// LastSnapshot returns the most recent snapshot, or nil before the first
// measurement.
func (m *Monitor) LastSnapshot() *domain.ResourceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Subscribe registers a callback invoked on pressure-level transitions.
// Register subscribers before starting the monitor.
func (m *Monitor) Subscribe(cb PressureCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, cb)
}

// Run samples on the configured interval until ctx is cancelled. Callback
// panics are caught and logged, never allowed to kill the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("started")
	defer m.log.Info("exited")

	previous := domain.PressureNone
	if last := m.LastSnapshot(); last != nil {
		previous = last.MemoryPressure
	}

	ticker := time.NewTicker(m.config.MonitoringInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshot := m.TakeSnapshot()
			if snapshot.MemoryPressure != previous {
				m.log.WithFields(logrus.Fields{
					"from": previous.String(),
					"to":   snapshot.MemoryPressure.String(),
				}).Info("memory pressure changed")
				m.notify(previous, snapshot.MemoryPressure)
				previous = snapshot.MemoryPressure
			}
		}
	}
}

// Start launches Run on a background goroutine. Stop cancels it and waits
// for the loop to exit before returning, so no task is left dangling.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		_ = m.Run(ctx)
	}()
}

func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// WaitForHealthyResources polls once per second until pressure drops to
// Low or below, the timeout elapses or ctx is cancelled. It reports the
// outcome as a boolean, never an error.
func (m *Monitor) WaitForHealthyResources(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.TakeSnapshot().MemoryPressure.IsHealthy() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(healthyPollInterval):
		}
	}
}

func (m *Monitor) notify(old, new domain.MemoryPressure) {
	m.mu.Lock()
	subscribers := make([]PressureCallback, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	for _, cb := range subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Errorf("pressure callback panicked: %v", r)
				}
			}()
			cb(old, new)
		}()
	}
}

func minInt(values ...int) int {
	v := values[0]
	for _, x := range values[1:] {
		if x < v {
			v = x
		}
	}
	return v
}
