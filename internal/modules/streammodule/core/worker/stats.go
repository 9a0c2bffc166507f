package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/process"
)

// Stats is a point-in-time resource sample of a worker process
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// ProcessStats samples CPU and memory usage of pid
func ProcessStats(ctx context.Context, pid int) (Stats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	var stats Stats
	if stats.CPUPercent, err = p.CPUPercentWithContext(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}

	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read memory usage: %w", err)
	}
	stats.RSSBytes = mem.RSS

	// Thread counts are unavailable on some platforms
	stats.Threads, _ = p.NumThreadsWithContext(ctx)

	return stats, nil
}

// ReapOrphan terminates a worker left running by a previous supervisor.
// The pid is only signalled when its command line still references marker
// (the session's output directory), so a recycled pid is left alone.
// It reports whether a process was found and signalled.
func ReapOrphan(ctx context.Context, pid int, marker string, grace time.Duration, logger hclog.Logger) (bool, error) {
	if pid <= 0 || marker == "" {
		return false, nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	cmdline, err := p.CmdlineWithContext(ctx)
	if err != nil {
		// Process exited between lookup and inspection
		return false, nil
	}
	if !strings.Contains(cmdline, marker) {
		logger.Debug("pid reused by unrelated process, leaving it alone", "pid", pid)
		return false, nil
	}

	logger.Info("terminating orphaned worker", "pid", pid)
	if err := p.TerminateWithContext(ctx); err != nil {
		logger.Debug("failed to send SIGTERM to orphan", "pid", pid, "error", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	logger.Warn("orphaned worker ignored SIGTERM, killing", "pid", pid)
	if err := p.KillWithContext(ctx); err != nil {
		return true, fmt.Errorf("failed to kill orphan %d: %w", pid, err)
	}
	return true, nil
}
