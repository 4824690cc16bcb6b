package monitor

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_ReadsRuntimeMetrics(t *testing.T) {
	m := New(t.TempDir(), time.Second)

	s, err := m.Sample()

	require.NoError(t, err)
	assert.Greater(t, s.Goroutines, 0.0)
	assert.Greater(t, s.HeapMB, 0.0)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
}

func TestRun_WritesCSVUntilCancelled(t *testing.T) {
	// GIVEN a monitor with a short interval
	dir := t.TempDir()
	m := New(dir, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// WHEN it runs for a few intervals and is cancelled
	time.Sleep(80 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// THEN the file has the header and at least one parseable row
	f, err := os.Open(filepath.Join(dir, FileName))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, header, rows[0])
	for _, row := range rows[1:] {
		require.Len(t, row, len(header))
		_, err := time.Parse(time.RFC3339Nano, row[0])
		assert.NoError(t, err)
		g, err := strconv.ParseFloat(row[6], 64)
		require.NoError(t, err)
		assert.Greater(t, g, 0.0)
	}
}

func TestNew_DefaultsInterval(t *testing.T) {
	m := New(t.TempDir(), 0)
	assert.Equal(t, DefaultInterval, m.interval)
	assert.Equal(t, FileName, filepath.Base(m.Path()))
}

func TestRun_MissingDirectory_ReturnsError(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "missing"), time.Millisecond)
	assert.Error(t, m.Run(context.Background()))
}

func TestSample_FirstCPUPercent_CoversOnlyTimeSinceNew(t *testing.T) {
	// GIVEN a process that has already burnt CPU before the monitor exists
	burn := time.Now()
	for time.Since(burn) < 200*time.Millisecond {
	}
	m := New(t.TempDir(), time.Second)
	baseline := m.lastCPU
	time.Sleep(50 * time.Millisecond)

	// WHEN the first sample is taken
	s, err := m.Sample()

	// THEN cpu_percent reflects only the idle window, not lifetime CPU
	require.NoError(t, err)
	assert.LessOrEqual(t, s.CPUPercent, 100*float64(runtime.NumCPU())+50)
	if s.CPUSeconds > 0 { // process collector supported on this platform
		assert.Greater(t, baseline, 0.0)
	}
}
