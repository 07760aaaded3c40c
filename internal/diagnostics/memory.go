// Package diagnostics exposes the memory measurements the orchestrator acts
// on: a system preflight before a run starts, and per-worker RSS sampling
// for the memory watchdog.
package diagnostics

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryStatus summarizes system memory at a point in time.
type MemoryStatus struct {
	TotalMB     float64 `json:"total_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

const bytesPerMB = 1024 * 1024

// SystemMemory reads current system memory usage.
func SystemMemory() (MemoryStatus, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryStatus{}, fmt.Errorf("reading system memory: %w", err)
	}
	return MemoryStatus{
		TotalMB:     float64(vm.Total) / bytesPerMB,
		AvailableMB: float64(vm.Available) / bytesPerMB,
		UsedPercent: vm.UsedPercent,
	}, nil
}

// ProcessRSSMB returns a process's resident set size in megabytes.
func ProcessRSSMB(pid int) (float64, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, fmt.Errorf("opening process %d: %w", pid, err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("reading memory of process %d: %w", pid, err)
	}
	return float64(info.RSS) / bytesPerMB, nil
}

// PreflightWarnings reports conditions worth surfacing before spawning a
// worker pool. It never blocks a run; low memory is a warning, not an error.
func PreflightWarnings(minAvailableMB float64) []string {
	status, err := SystemMemory()
	if err != nil {
		return []string{fmt.Sprintf("could not read system memory: %v", err)}
	}

	var warnings []string
	if minAvailableMB > 0 && status.AvailableMB < minAvailableMB {
		warnings = append(warnings, fmt.Sprintf(
			"low system memory: %.0f MB available, %.0f MB recommended",
			status.AvailableMB, minAvailableMB))
	}
	return warnings
}
