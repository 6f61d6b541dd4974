package telemetry

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProcessMetrics describe the orchestrator process at snapshot time.
type ProcessMetrics struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	Threads    int     `json:"threads"`
	Status     string  `json:"status"`
}

var procSampler = &cpuSampler{}

// sampleProcessMetrics reads /proc on Linux and falls back to runtime
// counters elsewhere. Metrics are best-effort; zero values are fine.
func sampleProcessMetrics(status string) ProcessMetrics {
	m := ProcessMetrics{PID: os.Getpid(), Status: status}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.MemoryMB = float64(ms.Sys) / (1024 * 1024)
	m.Threads = runtime.NumGoroutine()

	if stat, err := os.ReadFile("/proc/self/stat"); err == nil {
		if cpu, threads, ok := parseProcStat(string(stat)); ok {
			m.CPUPercent = procSampler.percent(cpu)
			m.Threads = threads
		}
	}
	return m
}

// parseProcStat extracts cumulative cpu jiffies and the thread count.
// Fields are positional after the parenthesized comm, which may itself
// contain spaces.
func parseProcStat(stat string) (cpuJiffies int64, threads int, ok bool) {
	end := strings.LastIndex(stat, ")")
	if end < 0 || end+2 > len(stat) {
		return 0, 0, false
	}
	fields := strings.Fields(stat[end+2:])
	// After comm: field 0 is state; utime and stime are fields 11 and 12;
	// num_threads is field 17.
	if len(fields) < 18 {
		return 0, 0, false
	}
	utime, err1 := strconv.ParseInt(fields[11], 10, 64)
	stime, err2 := strconv.ParseInt(fields[12], 10, 64)
	nthreads, err3 := strconv.Atoi(fields[17])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, false
	}
	return utime + stime, nthreads, true
}

// cpuSampler turns cumulative jiffies into a percentage over the window
// between two samples.
type cpuSampler struct {
	mu       sync.Mutex
	lastAt   time.Time
	lastCPU  int64
	clockTck float64
}

func (s *cpuSampler) percent(cpuJiffies int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clockTck == 0 {
		s.clockTck = 100 // USER_HZ on effectively all Linux systems
	}
	now := time.Now()
	defer func() {
		s.lastAt = now
		s.lastCPU = cpuJiffies
	}()

	if s.lastAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.lastAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	used := float64(cpuJiffies-s.lastCPU) / s.clockTck
	pct := used / elapsed * 100
	if pct < 0 {
		pct = 0
	}
	return pct
}
