// Package monitor periodically samples the replay client's own resource
// usage into resource_metrics.csv so client-side saturation can be told
// apart from server-side slowness.
package monitor

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
)

// FileName is the CSV written under the output directory.
const FileName = "resource_metrics.csv"

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = time.Second

var header = []string{
	"timestamp", "elapsed_time",
	"memory_mb", "cpu_percent", "cpu_seconds",
	"open_files", "goroutines", "heap_mb",
}

// Sample is one resource reading.
type Sample struct {
	Time       time.Time
	Elapsed    time.Duration
	MemoryMB   float64
	CPUPercent float64 // since the previous sample
	CPUSeconds float64
	OpenFiles  float64
	Goroutines float64
	HeapMB     float64
}

// ResourceMonitor samples Go runtime and process collectors.
type ResourceMonitor struct {
	path     string
	interval time.Duration
	registry *prometheus.Registry
	start    time.Time

	lastCPU  float64
	lastTime time.Time
}

// New creates a monitor writing to outputDir/resource_metrics.csv.
func New(outputDir string, interval time.Duration) *ResourceMonitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &ResourceMonitor{
		path:     filepath.Join(outputDir, FileName),
		interval: interval,
		registry: reg,
	}
	// Baseline so the first cpu_percent covers only the time since New.
	m.lastCPU = m.gather()["process_cpu_seconds_total"]
	m.start = time.Now()
	m.lastTime = m.start
	return m
}

// gather returns the first sample of every metric family by name. Gather
// errors yield whatever families were collected.
func (m *ResourceMonitor) gather() map[string]float64 {
	families, _ := m.registry.Gather()
	values := make(map[string]float64, len(families))
	for _, mf := range families {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		values[mf.GetName()] = metricValue(mf.GetMetric()[0])
	}
	return values
}

// Path returns the CSV path.
func (m *ResourceMonitor) Path() string { return m.path }

// Run samples every interval until ctx is cancelled. The CSV is flushed
// after every row so a crashed run keeps its history.
func (m *ResourceMonitor) Run(ctx context.Context) error {
	f, err := os.Create(m.path)
	if err != nil {
		return fmt.Errorf("create resource metrics file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write resource metrics header: %w", err)
	}
	w.Flush()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		s, err := m.Sample()
		if err != nil {
			logrus.Warnf("Resource sample failed: %v", err)
		} else {
			if err := w.Write(s.row()); err != nil {
				return fmt.Errorf("write resource metrics row: %w", err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return fmt.Errorf("flush resource metrics: %w", err)
			}
			logrus.Infof("[METRICS] Memory: %.1fMB, CPU: %.1f%%, Open files: %.0f, Goroutines: %.0f",
				s.MemoryMB, s.CPUPercent, s.OpenFiles, s.Goroutines)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sample takes one reading. Process metrics read as zero on platforms where
// the process collector is unsupported.
func (m *ResourceMonitor) Sample() (Sample, error) {
	values := m.gather()
	if len(values) == 0 {
		return Sample{}, fmt.Errorf("gather resource metrics: no metrics collected")
	}

	now := time.Now()
	s := Sample{
		Time:       now,
		Elapsed:    now.Sub(m.start),
		MemoryMB:   values["process_resident_memory_bytes"] / 1024 / 1024,
		CPUSeconds: values["process_cpu_seconds_total"],
		OpenFiles:  values["process_open_fds"],
		Goroutines: values["go_goroutines"],
		HeapMB:     values["go_memstats_heap_alloc_bytes"] / 1024 / 1024,
	}
	if wall := now.Sub(m.lastTime).Seconds(); wall > 0 {
		s.CPUPercent = (s.CPUSeconds - m.lastCPU) / wall * 100
	}
	m.lastCPU, m.lastTime = s.CPUSeconds, now
	return s, nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

func (s Sample) row() []string {
	f := func(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }
	return []string{
		s.Time.Format(time.RFC3339Nano),
		f(s.Elapsed.Seconds(), 2),
		f(s.MemoryMB, 2),
		f(s.CPUPercent, 1),
		f(s.CPUSeconds, 2),
		f(s.OpenFiles, 0),
		f(s.Goroutines, 0),
		f(s.HeapMB, 2),
	}
}
