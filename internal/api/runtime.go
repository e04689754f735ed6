package api

import (
	"runtime"
	"time"
)

// RuntimeOut reports process resource usage alongside cache stats.
type RuntimeOut struct {
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	CPUCores    int     `json:"cpu_cores"`
	UptimeSec   int64   `json:"uptime_sec"`
	TS          string  `json:"ts"`
}

func collectRuntime(start time.Time) RuntimeOut {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeOut{
		HeapAllocMB: float64(ms.HeapAlloc) / (1 << 20),
		SysMB:       float64(ms.Sys) / (1 << 20),
		GCRuns:      ms.NumGC,
		Goroutines:  runtime.NumGoroutine(),
		CPUCores:    runtime.NumCPU(),
		UptimeSec:   int64(time.Since(start).Seconds()),
		TS:          time.Now().UTC().Format(time.RFC3339Nano),
	}
}
