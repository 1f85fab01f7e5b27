package jobrunner

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Limits are the per-job resource ceilings checked between chunks.
// A zero value disables the corresponding check.
type Limits struct {
	MaxMemoryMB    int
	MaxCPUSeconds  int
	MaxWallSeconds int
}

// LimitChecker samples the current process between chunks and reports
// the first breached limit. Process-wide CPU and RSS are attributed to
// the running job, which is accurate while one job dominates and a safe
// overestimate otherwise.
type LimitChecker struct {
	limits  Limits
	proc    *process.Process
	started time.Time
	baseCPU float64
}

// NewLimitChecker creates a checker anchored at the current instant.
func NewLimitChecker(limits Limits) (*LimitChecker, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	lc := &LimitChecker{
		limits:  limits,
		proc:    proc,
		started: time.Now(),
	}
	if cpuTimes, err := proc.Times(); err == nil {
		lc.baseCPU = cpuTimes.User + cpuTimes.System
	}
	return lc, nil
}

// Check returns a resource-limit JobError for the first breached limit,
// or nil when all limits hold. Sampling errors are ignored; a limit that
// cannot be measured is not enforced.
func (lc *LimitChecker) Check(jobID string) *JobError {
	if lc.limits.MaxWallSeconds > 0 {
		elapsed := time.Since(lc.started).Seconds()
		if elapsed > float64(lc.limits.MaxWallSeconds) {
			return NewResourceLimitError(jobID, "wall_seconds", elapsed, float64(lc.limits.MaxWallSeconds))
		}
	}

	if lc.limits.MaxCPUSeconds > 0 {
		if cpuTimes, err := lc.proc.Times(); err == nil {
			used := cpuTimes.User + cpuTimes.System - lc.baseCPU
			if used > float64(lc.limits.MaxCPUSeconds) {
				return NewResourceLimitError(jobID, "cpu_seconds", used, float64(lc.limits.MaxCPUSeconds))
			}
		}
	}

	if lc.limits.MaxMemoryMB > 0 {
		if mem, err := lc.proc.MemoryInfo(); err == nil {
			rssMB := float64(mem.RSS) / (1024 * 1024)
			if rssMB > float64(lc.limits.MaxMemoryMB) {
				return NewResourceLimitError(jobID, "memory_mb", rssMB, float64(lc.limits.MaxMemoryMB))
			}
		}
	}

	return nil
}
