package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an FFmpeg process.
type ProcessStats struct {
	PID            int           `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	MemoryRSSMB    float64       `json:"memory_rss_mb"`
	MemoryPercent  float32       `json:"memory_percent"`
	Duration       time.Duration `json:"duration"`
}

// SampleProcess reads cpu and memory usage for pid.
func SampleProcess(ctx context.Context, pid int) (*ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", pid, err)
	}

	stats := &ProcessStats{PID: pid}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.MemoryRSSBytes = mem.RSS
		stats.MemoryRSSMB = float64(mem.RSS) / (1024 * 1024)
	}
	if pct, err := p.MemoryPercentWithContext(ctx); err == nil {
		stats.MemoryPercent = pct
	}
	return stats, nil
}
