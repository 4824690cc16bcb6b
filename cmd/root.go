package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/replay-client/replay"
)

var (
	logLevel   string       // Log verbosity level
	configPath string       // Optional YAML file with replay settings
	flagConfig ReplayConfig // Values bound to replay flags
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "replay-client",
	Short: "Replays timestamped LLM workload traces against an inference endpoint",
}

// setupLogging applies --log; an unknown level is fatal.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// replayCmd replays the trace against the configured endpoint
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a workload trace in wall-clock time",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg, err := resolveConfig(cmd, configPath, flagConfig)
		if err != nil {
			logrus.Fatalf("Loading config failed: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runID := replay.NewRunID()
		m, err := runReplay(ctx, cfg, runID)
		if err != nil {
			if m == nil {
				logrus.Fatalf("Replay failed before start: %v", err)
			}
			logrus.Fatalf("Replay %s ended %s: %v", runID, m.State, err)
		}
		logrus.Infof("Replay %s complete. Results in %s", runID, m.OutputFile)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registerReplayFlags binds replay flags onto cfg, with defaults shown in --help.
func registerReplayFlags(cmd *cobra.Command, cfg *ReplayConfig) {
	d := DefaultReplayConfig()
	f := cmd.Flags()

	// Workload
	f.StringVar(&cfg.WorkloadPath, "workload-path", "", "Path to the JSONL workload trace")
	f.Int64Var(&cfg.MinimumTimeUnit, "minimum-time-unit", d.MinimumTimeUnit, "Bucket width in ms used to collapse trace timestamps")
	f.Float64Var(&cfg.TargetAvgRPS, "target-avg-rps", 0, "Resample the trace to this average request rate (0 keeps the trace rate)")
	f.Int64Var(&cfg.Seed, "seed", d.Seed, "Seed for rate-scaler sampling")
	f.BoolVar(&cfg.WriteCollapsed, "write-collapsed", false, "Write <trace>_collapsed.jsonl next to the trace")

	// Endpoint
	f.StringVar(&cfg.Endpoint, "endpoint", "", "Inference endpoint base URL")
	f.StringVar(&cfg.Model, "model", "", "Model name sent with every request")
	f.StringVar(&cfg.APIKey, "api-key", "", "Bearer token for the endpoint")
	f.StringVar(&cfg.RoutingStrategy, "routing-strategy", d.RoutingStrategy, "Value of the routing-strategy header (empty omits it)")
	f.IntVar(&cfg.MaxConnections, "max-connections", d.MaxConnections, "Maximum open connections to the endpoint")
	f.IntVar(&cfg.MaxIdleConnections, "max-idle-connections", d.MaxIdleConnections, "Maximum idle pooled connections")
	f.DurationVar(&cfg.RequestTimeout, "request-timeout", d.RequestTimeout, "Timeout of one request including its body")
	f.IntVar(&cfg.MaxTokens, "max-tokens", d.MaxTokens, "max_tokens sent with every request")

	// Outputs
	f.StringVar(&cfg.OutputDir, "output-dir", d.OutputDir, "Directory for reports, manifest and resource metrics")
	f.StringVar(&cfg.OutputFilePath, "output-file-path", d.OutputFilePath, "Result file; relative paths are under --output-dir")
	f.StringVar(&cfg.OutputFormat, "output-format", d.OutputFormat, "Result format (jsonl, parquet, sqlite)")
	f.StringVar(&cfg.NATSURL, "nats-url", "", "Also publish every record to this NATS server")
	f.StringVar(&cfg.NATSSubject, "nats-subject", d.NATSSubject, "NATS subject prefix; the run id is appended")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.BoolVar(&cfg.Monitor, "monitor", false, "Sample client resource usage into resource_metrics.csv")
	f.DurationVar(&cfg.MonitorInterval, "monitor-interval", d.MonitorInterval, "Resource sampling interval")

	// Artifact upload
	f.StringVar(&cfg.Upload.Bucket, "upload-bucket", "", "Upload run artifacts to this S3 bucket")
	f.StringVar(&cfg.Upload.Endpoint, "upload-endpoint", "", "S3-compatible endpoint URL (empty uses AWS)")
	f.StringVar(&cfg.Upload.Region, "upload-region", "", "Bucket region")
	f.StringVar(&cfg.Upload.Prefix, "upload-prefix", "", "Key prefix; objects land at <prefix>/<run id>/<file>")
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	replayCmd.Flags().StringVar(&configPath, "config", "", "YAML file with replay settings; explicit flags override it")
	registerReplayFlags(replayCmd, &flagConfig)

	rootCmd.AddCommand(replayCmd)
}
