package system

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Workers resolves the render worker count: requested if positive, else the
// number of logical CPUs, never more than limit when limit > 0.
func Workers(requested, limit int) int {
	n := requested
	if n <= 0 {
		if c, err := cpu.Counts(true); err == nil && c > 0 {
			n = c
		} else {
			n = runtime.NumCPU()
		}
	}
	if limit > 0 && n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// MemoryBudget returns fraction of the currently available memory in bytes,
// or 0 if it cannot be determined.
func MemoryBudget(fraction float64) uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return 0
	}
	return uint64(float64(vm.Available) * fraction)
}

// FramesWithin is how many RGBA frames of w x h fit into budget bytes.
// A zero budget means unknown and returns fallback.
func FramesWithin(budget uint64, w, h, fallback int) int {
	if budget == 0 {
		return fallback
	}
	per := uint64(w) * uint64(h) * 4
	if per == 0 {
		return fallback
	}
	return int(budget / per)
}
