// Package sysmon exposes host resource measurements as custom condition
// functions for SYSTEM-layer maintenance triggers.
package sysmon

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/trigger"
	"github.com/kore-ai/brain/internal/types"
)

// CPUPercent returns overall CPU utilization since the previous call.
func CPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// MemoryPercent returns used physical memory as a percentage.
func MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// ConditionHostCPUHigh is a custom condition: true when host CPU usage is
// at or above the "threshold" parameter (default 90).
func ConditionHostCPUHigh(_ types.Snapshot, params map[string]any) bool {
	pct, err := CPUPercent()
	if err != nil {
		logging.Warn("sysmon", "CPU sample failed: %v", err)
		return false
	}
	return pct >= threshold(params, 90)
}

// ConditionHostMemoryHigh is a custom condition: true when host memory
// usage is at or above the "threshold" parameter (default 90).
func ConditionHostMemoryHigh(_ types.Snapshot, params map[string]any) bool {
	pct, err := MemoryPercent()
	if err != nil {
		logging.Warn("sysmon", "Memory sample failed: %v", err)
		return false
	}
	return pct >= threshold(params, 90)
}

// RegisterConditions registers the host-resource predicates.
func RegisterConditions(e *trigger.Evaluator) {
	e.RegisterCustomFunc("host_cpu_high", ConditionHostCPUHigh)
	e.RegisterCustomFunc("host_memory_high", ConditionHostMemoryHigh)
}

func threshold(params map[string]any, def float64) float64 {
	switch v := params["threshold"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
