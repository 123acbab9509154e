package sysmon

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/registry"
)

// Monitor samples the process RSS and relieves buffer memory pressure by
// pruning the registry when the process grows past its limit. This is the
// second prune trigger besides the registry's own cap rejection: ring
// accounting only sees payload bytes, RSS sees everything.
type Monitor struct {
	reg           *registry.Registry
	checkInterval time.Duration
	rssLimit      uint64
	pruneTarget   int64
}

// New builds a monitor that prunes the registry to pruneTarget bytes
// whenever RSS exceeds rssLimitMB.
func New(reg *registry.Registry, checkInterval time.Duration, rssLimitMB int, pruneTarget int64) *Monitor {
	if checkInterval <= 0 {
		checkInterval = 2 * time.Second
	}
	return &Monitor{
		reg:           reg,
		checkInterval: checkInterval,
		rssLimit:      uint64(rssLimitMB) << 20,
		pruneTarget:   pruneTarget,
	}
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log.Errorw("sysmon: cannot inspect own process", "error", err)
		return
	}

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := proc.MemoryInfo()
			if err != nil {
				logger.Log.Debugw("sysmon: memory info", "error", err)
				continue
			}
			metrics.ProcessMemoryBytes.Set(float64(info.RSS))

			if m.rssLimit > 0 && info.RSS > m.rssLimit {
				evicted := m.reg.PruneToMemory(m.pruneTarget)
				logger.Log.Warnw("process memory over limit, pruned buffers",
					"rss_bytes", info.RSS,
					"limit_bytes", m.rssLimit,
					"frames_evicted", evicted)
			}
		}
	}
}
