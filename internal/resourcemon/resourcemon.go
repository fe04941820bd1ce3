// Package resourcemon samples the hub host's disk, CPU, and memory
// usage and applies retention pressure to the PNG spectrogram archive
// when disk space runs low, grounded on the teacher's internal/monitor
// threshold-based resource checks.
package resourcemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/foresthq/guardian/internal/logging"
)

// Thresholds controls when retention pressure kicks in.
type Thresholds struct {
	DiskWarningPercent  float64 // e.g. 80
	DiskCriticalPercent float64 // e.g. 90
	CheckInterval       time.Duration
}

// DefaultThresholds mirrors the teacher's defaultHysteresisPercent-style
// conservative defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiskWarningPercent:  80,
		DiskCriticalPercent: 90,
		CheckInterval:       30 * time.Second,
	}
}

// Sample is one point-in-time resource reading.
type Sample struct {
	DiskUsedPercent float64
	CPUPercent      float64
	MemUsedPercent  float64
	At              time.Time
}

// Monitor periodically samples host resources and, when disk usage
// crosses DiskCriticalPercent, deletes the oldest spectrogram PNGs
// under SpectrogramDir until usage drops back under
// DiskWarningPercent.
type Monitor struct {
	thresholds     Thresholds
	spectrogramDir string
	log            *slog.Logger
}

// New constructs a Monitor watching spectrogramDir for retention
// pressure.
func New(thresholds Thresholds, spectrogramDir string) *Monitor {
	if thresholds.CheckInterval == 0 {
		thresholds = DefaultThresholds()
	}
	return &Monitor{
		thresholds:     thresholds,
		spectrogramDir: spectrogramDir,
		log:            logging.ForService("resourcemon"),
	}
}

// LogCPUFeatures emits a one-line startup diagnostic describing the
// host CPU, mirroring the purpose of the teacher's internal/cpuspec
// (informing the operator what acceleration is available) repurposed
// here as a plain boot-time log line rather than a codec-selection
// input.
func (m *Monitor) LogCPUFeatures() {
	m.log.Info("cpu detected",
		"brand", cpuid.CPU.BrandName,
		"logical_cores", cpuid.CPU.LogicalCores,
		"physical_cores", cpuid.CPU.PhysicalCores,
		"avx2", cpuid.CPU.Supports(cpuid.AVX2),
	)
}

// Sample takes one reading of disk (for spectrogramDir's filesystem),
// CPU, and memory usage.
func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	diskStat, err := disk.UsageWithContext(ctx, m.spectrogramDir)
	if err != nil {
		return Sample{}, err
	}
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, err
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}
	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		DiskUsedPercent: diskStat.UsedPercent,
		CPUPercent:      cpuPct,
		MemUsedPercent:  memStat.UsedPercent,
		At:              time.Now(),
	}, nil
}

// Run blocks, sampling every CheckInterval until ctx is canceled,
// applying retention pressure whenever disk usage is critical.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.thresholds.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := m.Sample(ctx)
			if err != nil {
				m.log.Warn("resource sample failed", "err", err)
				continue
			}
			if s.DiskUsedPercent >= m.thresholds.DiskCriticalPercent {
				m.log.Warn("disk usage critical, applying retention pressure",
					"used_percent", s.DiskUsedPercent)
				if removed, err := m.ApplyRetentionPressure(); err != nil {
					m.log.Error("retention pressure failed", "err", err)
				} else if removed > 0 {
					m.log.Info("removed old spectrograms under disk pressure", "count", removed)
				}
			} else if s.DiskUsedPercent >= m.thresholds.DiskWarningPercent {
				m.log.Warn("disk usage high", "used_percent", s.DiskUsedPercent)
			}
		}
	}
}

// ApplyRetentionPressure deletes the oldest PNG spectrograms under
// spectrogramDir, oldest-first by modification time, until disk usage
// drops back under DiskWarningPercent or there is nothing left to
// delete. Returns the number of files removed.
func (m *Monitor) ApplyRetentionPressure() (int, error) {
	entries, err := os.ReadDir(m.spectrogramDir)
	if err != nil {
		return 0, err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(m.spectrogramDir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	removed := 0
	for _, f := range files {
		usage, err := disk.Usage(m.spectrogramDir)
		if err != nil {
			return removed, err
		}
		if usage.UsedPercent < m.thresholds.DiskWarningPercent {
			break
		}
		if err := os.Remove(f.path); err != nil {
			m.log.Warn("failed to remove spectrogram", "path", f.path, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
