package health

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler reads the current memory, cpu and disk utilization in percent.
// The monitor takes it as an interface so tests can feed synthetic values.
type Sampler interface {
	Sample() (memoryPct, cpuPct, diskPct float64, err error)
}

type GopsutilSampler struct {
	diskPath string
}

func NewGopsutilSampler(diskPath string) *GopsutilSampler {
	return &GopsutilSampler{diskPath: diskPath}
}

func (s *GopsutilSampler) Sample() (float64, float64, float64, error) {
	var memoryPct, cpuPct, diskPct float64

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		slog.Warn("failed to read memory stats.", slog.String("err", err.Error()))
	} else {
		memoryPct = vmStat.UsedPercent
	}

	// Interval 0 compares against the previous call instead of blocking.
	percentages, err := cpu.Percent(0, false)
	if err != nil || len(percentages) == 0 {
		slog.Warn("failed to read cpu usage.")
	} else {
		cpuPct = percentages[0]
	}

	usage, err := disk.Usage(s.diskPath)
	if err != nil {
		slog.Warn("failed to read disk usage.", slog.String("err", err.Error()))
	} else {
		diskPct = usage.UsedPercent
	}

	return memoryPct, cpuPct, diskPct, nil
}
