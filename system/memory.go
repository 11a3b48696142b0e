// Package system provides host resource monitoring used to gate model
// loading and batch sizing during ingest.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot reports free memory at a point in time. AcceleratorFree is -1
// when no accelerator probe is configured or the probe failed.
type Snapshot struct {
	HostFree        uint64
	HostTotal       uint64
	AcceleratorFree int64
}

// Guard watches host (and optionally accelerator) memory and blocks
// expensive operations while free memory is below the threshold.
type Guard struct {
	minFree  uint64
	probe    []string
	interval time.Duration
	log      *slog.Logger

	// readMem is swapped in tests.
	readMem func() (*mem.VirtualMemoryStat, error)
}

// NewGuard returns a Guard with the given free-memory floor in bytes.
// probe, if non-empty, is an argv whose stdout is the free accelerator
// memory in bytes.
func NewGuard(minFree uint64, probe []string, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		minFree:  minFree,
		probe:    probe,
		interval: 2 * time.Second,
		log:      log,
		readMem:  mem.VirtualMemory,
	}
}

// Take returns the current memory snapshot.
func (g *Guard) Take(ctx context.Context) (Snapshot, error) {
	vm, err := g.readMem()
	if err != nil {
		return Snapshot{}, fmt.Errorf("memory snapshot: %w", err)
	}
	s := Snapshot{HostFree: vm.Available, HostTotal: vm.Total, AcceleratorFree: -1}
	if len(g.probe) > 0 {
		if free, err := g.probeAccelerator(ctx); err != nil {
			g.log.Debug("accelerator probe failed", "err", err)
		} else {
			s.AcceleratorFree = free
		}
	}
	return s, nil
}

// UnderPressure reports whether either pool is below the floor. An unknown
// accelerator pool never counts as pressure.
func (g *Guard) UnderPressure(ctx context.Context) bool {
	s, err := g.Take(ctx)
	if err != nil {
		// If we cannot measure, do not block work.
		g.log.Warn("memory snapshot failed", "err", err)
		return false
	}
	if s.HostFree < g.minFree {
		return true
	}
	if s.AcceleratorFree >= 0 && uint64(s.AcceleratorFree) < g.minFree {
		return true
	}
	return false
}

// WaitForRecovery polls until memory pressure clears or ctx is done.
func (g *Guard) WaitForRecovery(ctx context.Context) error {
	for g.UnderPressure(ctx) {
		g.log.Info("waiting for memory to recover", "min_free_bytes", g.minFree)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.interval):
		}
	}
	return nil
}

func (g *Guard) probeAccelerator(ctx context.Context) (int64, error) {
	cmd := exec.CommandContext(ctx, g.probe[0], g.probe[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return -1, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return -1, fmt.Errorf("parse probe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return n, nil
}
