package metrics

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSnapshot is the host view reported by the health endpoint.
type SystemSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskFreeMB    uint64  `json:"disk_free_mb"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// SystemStats samples host usage. The CPU sample uses a short window so
// health probes stay fast; failures degrade to zeros rather than erroring
// the probe.
type SystemStats struct {
	dataDir   string
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemStats creates a sampler. Disk usage is measured on the volume
// holding dataDir.
func NewSystemStats(dataDir string, log zerolog.Logger) *SystemStats {
	return &SystemStats{
		dataDir:   dataDir,
		startedAt: time.Now(),
		log:       log.With().Str("component", "system_stats").Logger(),
	}
}

// Snapshot samples current host usage.
func (s *SystemStats) Snapshot() SystemSnapshot {
	snap := SystemSnapshot{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		s.log.Warn().Err(err).Msg("Failed to sample CPU usage")
	} else {
		snap.CPUPercent = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to sample memory usage")
	} else {
		snap.MemPercent = memStat.UsedPercent
		snap.MemUsedMB = memStat.Used / (1024 * 1024)
	}

	if diskStat, err := disk.Usage(s.dataDir); err != nil {
		s.log.Warn().Err(err).Msg("Failed to sample disk usage")
	} else {
		snap.DiskPercent = diskStat.UsedPercent
		snap.DiskFreeMB = diskStat.Free / (1024 * 1024)
	}

	return snap
}
