package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/replay-client/replay"
	"github.com/inference-sim/replay-client/replay/dispatch"
	"github.com/inference-sim/replay-client/replay/monitor"
	"github.com/inference-sim/replay-client/replay/sink"
)

// ReplayConfig holds every setting of a replay run. It is loaded from the
// optional --config YAML file, then overridden by explicitly set flags.
type ReplayConfig struct {
	WorkloadPath       string        `yaml:"workload_path"`
	Endpoint           string        `yaml:"endpoint"`
	Model              string        `yaml:"model"`
	APIKey             string        `yaml:"api_key"`
	OutputDir          string        `yaml:"output_dir"`
	OutputFilePath     string        `yaml:"output_file_path"`
	OutputFormat       string        `yaml:"output_format"`
	RoutingStrategy    string        `yaml:"routing_strategy"`
	MinimumTimeUnit    int64         `yaml:"minimum_time_unit"` // ms
	TargetAvgRPS       float64       `yaml:"target_avg_rps"`    // 0 disables rate scaling
	Seed               int64         `yaml:"seed"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxTokens          int           `yaml:"max_tokens"`
	WriteCollapsed     bool          `yaml:"write_collapsed"`
	NATSURL            string        `yaml:"nats_url"`
	NATSSubject        string        `yaml:"nats_subject"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	Monitor            bool          `yaml:"monitor"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
	Upload             UploadConfig  `yaml:"upload"`
}

// UploadConfig selects the S3-compatible bucket run artifacts are copied to.
type UploadConfig struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DefaultReplayConfig returns the defaults used when neither YAML nor flags set a field.
func DefaultReplayConfig() ReplayConfig {
	transport := dispatch.DefaultTransportConfig()
	return ReplayConfig{
		OutputDir:          ".",
		OutputFilePath:     "output.jsonl",
		OutputFormat:       string(sink.FormatJSONL),
		RoutingStrategy:    "least-request",
		MinimumTimeUnit:    1,
		Seed:               42,
		MaxConnections:     transport.MaxConnections,
		MaxIdleConnections: transport.MaxIdleConnections,
		RequestTimeout:     transport.Timeout,
		MaxTokens:          dispatch.DefaultMaxTokens,
		NATSSubject:        "replay.records",
		MonitorInterval:    monitor.DefaultInterval,
	}
}

// LoadReplayConfig decodes a YAML file over the defaults. Unknown keys are
// rejected so typos fail loudly.
func LoadReplayConfig(path string) (ReplayConfig, error) {
	cfg := DefaultReplayConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields needed before any request is sent.
func (c ReplayConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.WorkloadPath) == "":
		return &replay.ConfigurationError{Field: "workload_path", Reason: "must be set"}
	case strings.TrimSpace(c.Endpoint) == "":
		return &replay.ConfigurationError{Field: "endpoint", Reason: "must be set"}
	case strings.TrimSpace(c.Model) == "":
		return &replay.ConfigurationError{Field: "model", Reason: "must be set"}
	case c.MinimumTimeUnit <= 0:
		return &replay.ConfigurationError{Field: "minimum_time_unit", Reason: fmt.Sprintf("must be positive, got %d", c.MinimumTimeUnit)}
	case c.TargetAvgRPS < 0:
		return &replay.ConfigurationError{Field: "target_avg_rps", Reason: fmt.Sprintf("must not be negative, got %g", c.TargetAvgRPS)}
	case c.MaxConnections <= 0:
		return &replay.ConfigurationError{Field: "max_connections", Reason: "must be positive"}
	case c.MaxIdleConnections < 0:
		return &replay.ConfigurationError{Field: "max_idle_connections", Reason: "must not be negative"}
	case c.RequestTimeout <= 0:
		return &replay.ConfigurationError{Field: "request_timeout", Reason: "must be positive"}
	case c.MaxTokens <= 0:
		return &replay.ConfigurationError{Field: "max_tokens", Reason: "must be positive"}
	case !sink.IsValidFormat(c.OutputFormat):
		return &replay.ConfigurationError{Field: "output_format", Reason: fmt.Sprintf("unknown format %q", c.OutputFormat)}
	case c.Monitor && c.MonitorInterval <= 0:
		return &replay.ConfigurationError{Field: "monitor_interval", Reason: "must be positive"}
	}
	return nil
}

// flagOverrides copies a flag's value onto the loaded config when the flag
// was set on the command line.
var flagOverrides = map[string]func(dst, src *ReplayConfig){
	"workload-path":        func(d, s *ReplayConfig) { d.WorkloadPath = s.WorkloadPath },
	"endpoint":             func(d, s *ReplayConfig) { d.Endpoint = s.Endpoint },
	"model":                func(d, s *ReplayConfig) { d.Model = s.Model },
	"api-key":              func(d, s *ReplayConfig) { d.APIKey = s.APIKey },
	"output-dir":           func(d, s *ReplayConfig) { d.OutputDir = s.OutputDir },
	"output-file-path":     func(d, s *ReplayConfig) { d.OutputFilePath = s.OutputFilePath },
	"output-format":        func(d, s *ReplayConfig) { d.OutputFormat = s.OutputFormat },
	"routing-strategy":     func(d, s *ReplayConfig) { d.RoutingStrategy = s.RoutingStrategy },
	"minimum-time-unit":    func(d, s *ReplayConfig) { d.MinimumTimeUnit = s.MinimumTimeUnit },
	"target-avg-rps":       func(d, s *ReplayConfig) { d.TargetAvgRPS = s.TargetAvgRPS },
	"seed":                 func(d, s *ReplayConfig) { d.Seed = s.Seed },
	"max-connections":      func(d, s *ReplayConfig) { d.MaxConnections = s.MaxConnections },
	"max-idle-connections": func(d, s *ReplayConfig) { d.MaxIdleConnections = s.MaxIdleConnections },
	"request-timeout":      func(d, s *ReplayConfig) { d.RequestTimeout = s.RequestTimeout },
	"max-tokens":           func(d, s *ReplayConfig) { d.MaxTokens = s.MaxTokens },
	"write-collapsed":      func(d, s *ReplayConfig) { d.WriteCollapsed = s.WriteCollapsed },
	"nats-url":             func(d, s *ReplayConfig) { d.NATSURL = s.NATSURL },
	"nats-subject":         func(d, s *ReplayConfig) { d.NATSSubject = s.NATSSubject },
	"metrics-addr":         func(d, s *ReplayConfig) { d.MetricsAddr = s.MetricsAddr },
	"monitor":              func(d, s *ReplayConfig) { d.Monitor = s.Monitor },
	"monitor-interval":     func(d, s *ReplayConfig) { d.MonitorInterval = s.MonitorInterval },
	"upload-bucket":        func(d, s *ReplayConfig) { d.Upload.Bucket = s.Upload.Bucket },
	"upload-endpoint":      func(d, s *ReplayConfig) { d.Upload.Endpoint = s.Upload.Endpoint },
	"upload-region":        func(d, s *ReplayConfig) { d.Upload.Region = s.Upload.Region },
	"upload-prefix":        func(d, s *ReplayConfig) { d.Upload.Prefix = s.Upload.Prefix },
}

// resolveConfig merges the --config file (if any) with explicitly set flags.
func resolveConfig(cmd *cobra.Command, path string, flags ReplayConfig) (ReplayConfig, error) {
	if path == "" {
		return flags, nil
	}
	cfg, err := LoadReplayConfig(path)
	if err != nil {
		return cfg, err
	}
	for name, apply := range flagOverrides {
		if cmd.Flags().Changed(name) {
			apply(&cfg, &flags)
		}
	}
	return cfg, nil
}
