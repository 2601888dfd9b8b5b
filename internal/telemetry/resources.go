package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceSnapshot is a point-in-time view of host and process resources.
type ResourceSnapshot struct {
	CPUCores      int
	CPUPercent    float64
	MemoryTotalGB float64
	MemoryUsedPct float64
	HeapAllocMB   float64
	NumGoroutine  int
	TakenAt       time.Time
}

// TakeResourceSnapshot samples CPU usage over interval, or since the previous
// call when interval is zero.
func TakeResourceSnapshot(ctx context.Context, interval time.Duration) (*ResourceSnapshot, error) {
	snap := &ResourceSnapshot{
		CPUCores:     runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		TakenAt:      time.Now().UTC(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapAllocMB = float64(ms.HeapAlloc) / (1024 * 1024)

	cpuPercent, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) > 0 {
		snap.CPUPercent = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}
	snap.MemoryTotalGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	snap.MemoryUsedPct = memInfo.UsedPercent

	return snap, nil
}

// Fields renders the snapshot as log fields.
func (s *ResourceSnapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"cpu_cores":       s.CPUCores,
		"cpu_percent":     s.CPUPercent,
		"memory_total_gb": s.MemoryTotalGB,
		"memory_used_pct": s.MemoryUsedPct,
		"heap_alloc_mb":   s.HeapAllocMB,
		"goroutines":      s.NumGoroutine,
	}
}

// LogResourceSnapshot logs a snapshot under stage. Failures to read host
// stats are logged at warn level and otherwise ignored.
func LogResourceSnapshot(ctx context.Context, logger *logrus.Logger, stage string) {
	snap, err := TakeResourceSnapshot(ctx, 0)
	if err != nil {
		logger.WithError(err).WithField("stage", stage).Warn("Could not read resource usage")
		return
	}
	logger.WithFields(snap.Fields()).WithField("stage", stage).Info("Resource usage")
}
