package cmd

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/replay-client/replay"
	"github.com/inference-sim/replay-client/replay/scheduler"
)

const manifestFileName = "run_manifest.yaml"

// RunManifest records what a run replayed, against what, and how it ended.
type RunManifest struct {
	RunID           replay.RunID    `yaml:"run_id"`
	StartedAt       time.Time       `yaml:"started_at"`
	Endpoint        string          `yaml:"endpoint"`
	Model           string          `yaml:"model"`
	RoutingStrategy string          `yaml:"routing_strategy"`
	WorkloadPath    string          `yaml:"workload_path"`
	OutputFile      string          `yaml:"output_file"`
	OutputFormat    string          `yaml:"output_format"`
	MinimumTimeUnit int64           `yaml:"minimum_time_unit"`
	TargetAvgRPS    float64         `yaml:"target_avg_rps"`
	Seed            int64           `yaml:"seed"`
	TraceRequests   int             `yaml:"trace_requests"`
	Scale           *ScaleSummary   `yaml:"scale,omitempty"`
	State           scheduler.State `yaml:"state"`
	Stats           scheduler.Stats `yaml:"stats"`
	Error           string          `yaml:"error,omitempty"`
}

// ScaleSummary is present only when the rate scaler reshaped the workload.
type ScaleSummary struct {
	CurrentAvgRate float64 `yaml:"current_avg_rate"`
	ScaleFactor    float64 `yaml:"scale_factor"`
	Sampled        int     `yaml:"sampled"`
}

func writeManifest(path string, m *RunManifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal run manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write run manifest: %w", err)
	}
	return nil
}
