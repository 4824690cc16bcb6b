package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/replay-client/internal/testutil"
	"github.com/inference-sim/replay-client/replay"
	"github.com/inference-sim/replay-client/replay/scheduler"
)

func testConfig(t *testing.T, endpoint string) ReplayConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultReplayConfig()
	cfg.Endpoint = endpoint
	cfg.Model = "test-model"
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.MinimumTimeUnit = 1000
	cfg.WorkloadPath = testutil.WriteTrace(t, dir, "trace.jsonl",
		`{"timestamp": 5, "requests": [{"prompt": "b"}]}`,
		`{"timestamp": 0, "requests": [{"prompt": "a", "Prompt Length": 1, "Output Length": 8}]}`,
		``,
		`{"timestamp": 1003, "requests": [{"prompt": "c"}]}`,
	)
	return cfg
}

func readRecords(t *testing.T, path string) []replay.RequestRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var out []replay.RequestRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec replay.RequestRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestRunReplay_EndToEnd_WritesRecordsReportsAndManifest(t *testing.T) {
	// GIVEN a fake endpoint that fails prompt "c" and a three-request trace
	server := testutil.NewCompletionServer(t)
	server.FailPrompts["c"] = true
	cfg := testConfig(t, server.URL)
	cfg.WriteCollapsed = true

	// WHEN the trace is replayed
	m, err := runReplay(context.Background(), cfg, "run-e2e")

	// THEN every request gets exactly one record, failures included
	require.NoError(t, err)
	records := readRecords(t, cfg.outputPath())
	require.Len(t, records, 3)
	byInput := map[string]replay.RequestRecord{}
	for _, r := range records {
		byInput[r.Input] = r
	}
	assert.True(t, byInput["a"].Succeeded())
	assert.True(t, byInput["b"].Succeeded())
	assert.False(t, byInput["c"].Succeeded())
	assert.Equal(t, int64(0), byInput["a"].Bucket)
	assert.Equal(t, int64(1000), byInput["c"].Bucket)
	require.NotNil(t, byInput["c"].StatusCode)
	assert.Equal(t, 500, *byInput["c"].StatusCode)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, server.Prompts())

	// AND the run manifest reflects a completed run
	assert.Equal(t, scheduler.StateCompleted, m.State)
	assert.Equal(t, int64(3), m.Stats.Dispatched)
	assert.Equal(t, int64(2), m.Stats.Succeeded)
	assert.Equal(t, int64(1), m.Stats.Failed)
	assert.Equal(t, 1.0, m.Stats.CompletionRatio)
	assert.Equal(t, 3, m.TraceRequests)

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, manifestFileName))
	require.NoError(t, err)
	var onDisk RunManifest
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, replay.RunID("run-e2e"), onDisk.RunID)
	assert.Equal(t, scheduler.StateCompleted, onDisk.State)

	// AND the intended schedule and collapsed trace are written
	rps, err := os.ReadFile(filepath.Join(cfg.OutputDir, intendedRPSFile))
	require.NoError(t, err)
	assert.Equal(t, "0,2\n1,1\n", string(rps))
	traffic, err := os.ReadFile(filepath.Join(cfg.OutputDir, intendedTrafficFile))
	require.NoError(t, err)
	assert.Equal(t, "0,2\n1,1\n", string(traffic))
	_, err = os.Stat(filepath.Join(filepath.Dir(cfg.WorkloadPath), "trace_collapsed.jsonl"))
	assert.NoError(t, err)
}

func TestRunReplay_TargetRate_ScalesBeforeDispatch(t *testing.T) {
	// GIVEN a one-second trace of four requests and a target of half that rate
	server := testutil.NewCompletionServer(t)
	cfg := testConfig(t, server.URL)
	cfg.WorkloadPath = testutil.WriteTrace(t, t.TempDir(), "dense.jsonl",
		`{"timestamp": 0, "requests": [{"prompt": "p1"}, {"prompt": "p2"}, {"prompt": "p3"}, {"prompt": "p4"}]}`,
	)
	cfg.TargetAvgRPS = 2

	m, err := runReplay(context.Background(), cfg, "run-scaled")

	require.NoError(t, err)
	require.NotNil(t, m.Scale)
	testutil.AssertFloat64Equal(t, "current_avg_rate", 4.0, m.Scale.CurrentAvgRate, 1e-9)
	testutil.AssertFloat64Equal(t, "scale_factor", 0.5, m.Scale.ScaleFactor, 1e-9)
	assert.Equal(t, 2, m.Scale.Sampled)
	assert.Len(t, server.Prompts(), 2)
	assert.Len(t, readRecords(t, cfg.outputPath()), 2)
}

func TestRunReplay_SQLiteFormat(t *testing.T) {
	server := testutil.NewCompletionServer(t)
	cfg := testConfig(t, server.URL)
	cfg.OutputFormat = "sqlite"
	cfg.OutputFilePath = "results.db"

	m, err := runReplay(context.Background(), cfg, "run-sqlite")

	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Stats.Completed)
	_, err = os.Stat(filepath.Join(cfg.OutputDir, "results.db"))
	assert.NoError(t, err)
}

func TestRunReplay_InvalidConfig_FailsBeforeStart(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Model = ""

	m, err := runReplay(context.Background(), cfg, "run-bad")

	assert.Nil(t, m)
	var ce *replay.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestRunReplay_EmptyTrace_ConfigurationError(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.WorkloadPath = testutil.WriteTrace(t, t.TempDir(), "empty.jsonl")

	m, err := runReplay(context.Background(), cfg, "run-empty")

	assert.Nil(t, m)
	var ce *replay.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestRunReplay_Cancelled_ManifestRecordsAbort(t *testing.T) {
	// GIVEN a context cancelled before the run starts
	server := testutil.NewCompletionServer(t)
	cfg := testConfig(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN replayed
	m, err := runReplay(ctx, cfg, "run-cancelled")

	// THEN the run aborts and says so in the manifest
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, m)
	assert.Equal(t, scheduler.StateAborted, m.State)
	assert.NotEmpty(t, m.Error)
}

func TestCollapseTrace_MatchesReplayPreparation(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cw, err := collapseTrace(cfg.WorkloadPath, 1000, 0, 42)
	require.NoError(t, err)
	require.Len(t, cw, 2)
	assert.Equal(t, int64(0), cw[0].TimestampMs)
	assert.Len(t, cw[0].Requests, 2)
	assert.Equal(t, "b", cw[0].Requests[0].Prompt) // encounter order within a bucket
}
