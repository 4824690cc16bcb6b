package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/replay-client/replay"
	"github.com/inference-sim/replay-client/replay/artifact"
	"github.com/inference-sim/replay-client/replay/dispatch"
	"github.com/inference-sim/replay-client/replay/metrics"
	"github.com/inference-sim/replay-client/replay/monitor"
	"github.com/inference-sim/replay-client/replay/scheduler"
	"github.com/inference-sim/replay-client/replay/sink"
	"github.com/inference-sim/replay-client/replay/tracker"
	"github.com/inference-sim/replay-client/replay/workload"
)

const (
	intendedRPSFile     = "intended_rps.csv"
	intendedTrafficFile = "intended_traffic.csv"
)

// outputPath resolves the result file; relative paths live under the output dir.
func (c ReplayConfig) outputPath() string {
	if filepath.IsAbs(c.OutputFilePath) {
		return c.OutputFilePath
	}
	return filepath.Join(c.OutputDir, c.OutputFilePath)
}

// prepareWorkload loads, collapses and optionally rate-scales the trace.
func prepareWorkload(cfg ReplayConfig, m *RunManifest) (workload.CollapsedWorkload, error) {
	batches, err := workload.LoadTrace(cfg.WorkloadPath)
	if err != nil {
		return nil, err
	}
	cw, err := workload.Collapse(batches, cfg.MinimumTimeUnit)
	if err != nil {
		return nil, err
	}
	m.TraceRequests = cw.TotalRequests()
	logrus.Infof("Loaded %d requests from %s into %d buckets of %dms", cw.TotalRequests(), cfg.WorkloadPath, len(cw), cfg.MinimumTimeUnit)

	if cfg.WriteCollapsed {
		path := workload.CollapsedPath(cfg.WorkloadPath)
		if err := workload.WriteCollapsed(path, cw); err != nil {
			return nil, err
		}
		logrus.Infof("Collapsed workload written to %s", path)
	}

	if cfg.TargetAvgRPS > 0 {
		rng := replay.NewPartitionedRNG(cfg.Seed).ForSubsystem(replay.SubsystemScaler)
		res, err := workload.Scale(cw, cfg.TargetAvgRPS, rng)
		if err != nil {
			return nil, err
		}
		logrus.Infof("Scaled workload from %.2f to %.2f req/s (factor %.3f): kept %d of %d requests",
			res.CurrentAvgRate, cfg.TargetAvgRPS, res.ScaleFactor, res.Sampled, cw.TotalRequests())
		m.Scale = &ScaleSummary{CurrentAvgRate: res.CurrentAvgRate, ScaleFactor: res.ScaleFactor, Sampled: res.Sampled}
		cw = res.Workload
	}
	return cw, nil
}

// openSinks opens the result file and, when configured, the live NATS
// stream. Only the result file is fatal on write failure; the stream is
// best-effort and counts its drops through onStreamDrop.
func openSinks(cfg ReplayConfig, runID replay.RunID, onStreamDrop func()) (sink.Sink, error) {
	primary, err := sink.Open(sink.Format(cfg.OutputFormat), cfg.outputPath(), runID)
	if err != nil {
		return nil, err
	}
	if cfg.NATSURL == "" {
		return primary, nil
	}
	stream, err := sink.DialNATS(cfg.NATSURL, cfg.NATSSubject, runID)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	logrus.Infof("Streaming records to NATS subject %s", stream.Subject())
	return sink.Multi{primary, sink.NewBestEffort("nats stream", stream, onStreamDrop)}, nil
}

// runReplay executes one full replay run and writes its artifacts. The
// manifest is returned even when the run fails after starting.
func runReplay(ctx context.Context, cfg ReplayConfig, runID replay.RunID) (*RunManifest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	m := &RunManifest{
		RunID:           runID,
		Endpoint:        dispatch.NormalizeEndpoint(cfg.Endpoint),
		Model:           cfg.Model,
		RoutingStrategy: cfg.RoutingStrategy,
		WorkloadPath:    cfg.WorkloadPath,
		OutputFile:      cfg.outputPath(),
		OutputFormat:    cfg.OutputFormat,
		MinimumTimeUnit: cfg.MinimumTimeUnit,
		TargetAvgRPS:    cfg.TargetAvgRPS,
		Seed:            cfg.Seed,
		State:           scheduler.StateIdle,
	}

	cw, err := prepareWorkload(cfg, m)
	if err != nil {
		return nil, err
	}
	if err := cw.Validate(); err != nil {
		return nil, err
	}
	rpsPath := filepath.Join(cfg.OutputDir, intendedRPSFile)
	trafficPath := filepath.Join(cfg.OutputDir, intendedTrafficFile)
	if err := workload.WriteIntendedRPS(rpsPath, cw); err != nil {
		return nil, err
	}
	if err := workload.WriteIntendedTraffic(trafficPath, cw); err != nil {
		return nil, err
	}

	exporter := metrics.NewExporter(runID)
	results, err := openSinks(cfg, runID, exporter.StreamPublishFailed)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var background sync.WaitGroup

	if cfg.MetricsAddr != "" {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := exporter.Serve(runCtx, cfg.MetricsAddr); err != nil {
				logrus.Warnf("Metrics server stopped: %v", err)
			}
		}()
	}

	var mon *monitor.ResourceMonitor
	if cfg.Monitor {
		mon = monitor.New(cfg.OutputDir, cfg.MonitorInterval)
		background.Add(1)
		go func() {
			defer background.Done()
			if err := mon.Run(runCtx); err != nil {
				logrus.Warnf("Resource monitor stopped: %v", err)
			}
		}()
	}

	client := dispatch.NewHTTPClient(dispatch.TransportConfig{
		MaxConnections:     cfg.MaxConnections,
		MaxIdleConnections: cfg.MaxIdleConnections,
		Timeout:            cfg.RequestTimeout,
	})
	tr := tracker.New()
	d := dispatch.New(dispatch.Config{
		Endpoint:        cfg.Endpoint,
		Model:           cfg.Model,
		APIKey:          cfg.APIKey,
		RoutingStrategy: cfg.RoutingStrategy,
		MaxTokens:       cfg.MaxTokens,
	}, client, tr, results, exporter)
	s := scheduler.New(d, tr, nil, exporter)

	logrus.Infof("Starting replay %s: %d requests against %s (model %s, routing %s)",
		runID, cw.TotalRequests(), m.Endpoint, cfg.Model, cfg.RoutingStrategy)
	stats, runErr := s.Run(runCtx, cw)

	cancel()
	background.Wait()
	closeErr := results.Close()
	client.CloseIdleConnections()

	m.StartedAt = s.StartTime()
	m.State = s.State()
	m.Stats = stats
	if runErr != nil {
		m.Error = runErr.Error()
	}
	manifestPath := filepath.Join(cfg.OutputDir, manifestFileName)
	manifestErr := writeManifest(manifestPath, m)
	logrus.Infof("Completion ratio: %.4f (%d/%d)", stats.CompletionRatio, stats.Completed, stats.Dispatched)

	var uploadErr error
	if cfg.Upload.Bucket != "" {
		files := []string{cfg.outputPath(), manifestPath, rpsPath, trafficPath}
		if mon != nil {
			files = append(files, mon.Path())
		}
		uploadErr = uploadArtifacts(ctx, cfg.Upload, runID, files)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close result sink: %w", closeErr)
	}
	return m, errors.Join(runErr, closeErr, manifestErr, uploadErr)
}

func uploadArtifacts(ctx context.Context, cfg UploadConfig, runID replay.RunID, files []string) error {
	u, err := artifact.NewUploader(ctx, artifact.Config{
		Bucket:          cfg.Bucket,
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		Prefix:          cfg.Prefix,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return err
	}
	return u.Upload(ctx, runID, files...)
}
