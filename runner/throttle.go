package runner

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Throttle refuses to launch a task when the host is short on CPU, memory, or disk.
type Throttle struct {
	IdleCPU  float64 // minimum idle CPU percent
	FreeMem  uint64
	FreeDisk uint64
	DiskPath string

	log         *zap.Logger
	cpuPercent  func() ([]float64, error)
	availMemory func() (uint64, error)
	freeDisk    func(path string) (uint64, error)
}

func NewThrottle(idleCPU float64, freeMem, freeDisk int64, diskPath string, log *zap.Logger) *Throttle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Throttle{
		IdleCPU:  idleCPU,
		FreeMem:  uint64(freeMem),
		FreeDisk: uint64(freeDisk),
		DiskPath: diskPath,
		log:      log,
		cpuPercent: func() ([]float64, error) {
			return cpu.Percent(time.Second, false)
		},
		availMemory: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		freeDisk: func(path string) (uint64, error) {
			d, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return d.Free, nil
		},
	}
}

// Check returns an error when any resource is below its threshold.
// Probes that fail are logged and skipped.
func (t *Throttle) Check() error {
	p, err := t.cpuPercent()
	if err != nil {
		t.log.Warn("could not get CPU usage", zap.Error(err))
	} else if len(p) > 0 && p[0] > (100.0-t.IdleCPU) {
		return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], t.IdleCPU)
	}

	avail, err := t.availMemory()
	if err != nil {
		t.log.Warn("could not get memory usage", zap.Error(err))
	} else if avail < t.FreeMem {
		return fmt.Errorf("not enough free memory. Available: %d, Required: %d", avail, t.FreeMem)
	}

	free, err := t.freeDisk(t.DiskPath)
	if err != nil {
		t.log.Warn("could not get disk usage", zap.String("path", t.DiskPath), zap.Error(err))
	} else if free < t.FreeDisk {
		return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", free, t.FreeDisk)
	}
	return nil
}
