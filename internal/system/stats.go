package system

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is a point-in-time view of host load.
type Stats struct {
	CPUPercent float64
	MemPercent float64
	MemUsedMB  uint64
	Goroutines int
}

// CollectStats samples CPU and memory usage. CPU is measured since the
// previous call, so the first sample of a process may read 0.
func CollectStats(ctx context.Context) (Stats, error) {
	s := Stats{Goroutines: runtime.NumGoroutine()}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("cpu stats: %w", err)
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("memory stats: %w", err)
	}
	s.MemPercent = vm.UsedPercent
	s.MemUsedMB = vm.Used / 1024 / 1024
	return s, nil
}

// Report summarizes one export run.
type Report struct {
	Build    string
	Input    string
	Frames   int
	Duration float64 // seconds of produced video
	Elapsed  time.Duration
	Stats    Stats
}

// EffectiveFPS is the number of frames captured per wall-clock second.
func (r Report) EffectiveFPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Elapsed.Seconds()
}

func (r Report) String() string {
	return fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Video Length: %.2fs\n"+
			"Frames: %d\n"+
			"Effective FPS: %.2f\n"+
			"CPU: %.1f%% | RAM: %.1f%% (%d MB)\n"+
			"----------------------------\n",
		r.Build, r.Elapsed.Seconds(), r.Duration, r.Frames, r.EffectiveFPS(),
		r.Stats.CPUPercent, r.Stats.MemPercent, r.Stats.MemUsedMB,
	)
}

// AppendBenchmark writes a one-line summary of r to the log file at path.
func AppendBenchmark(path string, r Report) error {
	entry := fmt.Sprintf("[%s] Build: %s | Input: %s | Frames: %d | Total: %.2fs | FPS: %.2f | CPU: %.1f%% | RAM: %.1f%%\n",
		time.Now().Format("2006-01-02 15:04:05"),
		r.Build, r.Input, r.Frames, r.Elapsed.Seconds(), r.EffectiveFPS(),
		r.Stats.CPUPercent, r.Stats.MemPercent,
	)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(entry)
	return err
}
