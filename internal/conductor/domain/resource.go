package domain

import (
	"time"
)

// MemoryPressure is a totally ordered classification of host memory
// headroom. The integer ordering is load-bearing: scaling decisions compare
// levels, they never switch on names.
type MemoryPressure int

const (
	PressureNone MemoryPressure = iota
	PressureLow
	PressureMedium
	PressureHigh
	PressureCritical
)

func (p MemoryPressure) String() string {
	switch p {
	case PressureNone:
		return "none"
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	}
	return "unknown"
}

// IsHealthy reports whether new work can be admitted without concern.
func (p MemoryPressure) IsHealthy() bool {
	return p <= PressureLow
}

// ShouldScaleDown reports whether the pool should shed execution contexts.
func (p MemoryPressure) ShouldScaleDown() bool {
	return p >= PressureHigh
}

// CanScaleUp reports whether the pool may acquire additional contexts.
func (p MemoryPressure) CanScaleUp() bool {
	return p <= PressureLow
}

// ResourceSnapshot is an immutable point-in-time measurement. Pressure and
// the parallelism recommendation are derived from the measured values and
// the configured limits, never set independently.
type ResourceSnapshot struct {
	Timestamp              time.Time
	MemoryUsedPercent      float64
	MemoryAvailableMb      float64
	MemoryTotalMb          float64
	CpuPercent             float64
	MemoryPressure         MemoryPressure
	RecommendedParallelism int
}
