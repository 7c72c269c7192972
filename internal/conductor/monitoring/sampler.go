package monitoring

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one raw host measurement, before classification.
type Sample struct {
	MemoryUsedPercent float64
	MemoryAvailableMb float64
	MemoryTotalMb     float64
	CpuPercent        float64
}

// Sampler measures host memory and CPU. The system implementation is
// backed by gopsutil; tests inject their own.
type Sampler interface {
	Sample() (Sample, error)
}

type systemSampler struct{}

func NewSystemSampler() Sampler {
	return &systemSampler{}
}

func (s *systemSampler) Sample() (Sample, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, errors.WithMessage(err, "sampling virtual memory")
	}
	sample := Sample{
		MemoryUsedPercent: vm.UsedPercent,
		MemoryAvailableMb: float64(vm.Available) / (1 << 20),
		MemoryTotalMb:     float64(vm.Total) / (1 << 20),
	}
	// non-blocking: reports usage since the previous call
	percs, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, errors.WithMessage(err, "sampling cpu")
	}
	if len(percs) > 0 {
		sample.CpuPercent = percs[0]
	}
	return sample, nil
}
