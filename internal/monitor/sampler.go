package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const gib = 1024 * 1024 * 1024

// Sample is one reading of host resource usage.
type Sample struct {
	CPUPercent      float64
	MemoryPercent   float64
	MemoryAvailable uint64
	DiskPercent     float64
	DiskFree        uint64
}

type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// HostSampler reads CPU, memory and disk usage of the local host.
type HostSampler struct {
	DiskPath  string
	CPUWindow time.Duration
}

func NewHostSampler(diskPath string) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSampler{DiskPath: diskPath, CPUWindow: time.Second}
}

func (h *HostSampler) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, h.CPUWindow, false)
	if err != nil {
		return Sample{}, fmt.Errorf("sample cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("sample memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, h.DiskPath)
	if err != nil {
		return Sample{}, fmt.Errorf("sample disk %s: %w", h.DiskPath, err)
	}

	s := Sample{
		MemoryPercent:   vm.UsedPercent,
		MemoryAvailable: vm.Available,
		DiskPercent:     du.UsedPercent,
		DiskFree:        du.Free,
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	return s, nil
}
