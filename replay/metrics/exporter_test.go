package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/replay-client/replay"
)

func TestExporter_RequestLifecycle_UpdatesMetrics(t *testing.T) {
	// GIVEN an exporter and two in-flight requests
	e := NewExporter("run-1")
	e.RequestStarted()
	e.RequestStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(e.inflight))

	// WHEN one succeeds and one fails
	e.RequestFinished(replay.Success{Latency: 250 * time.Millisecond, OutputTokens: 12})
	e.RequestFinished(replay.Failure{Err: errors.New("boom")})

	// THEN counters reflect both outcomes
	assert.Equal(t, 0.0, testutil.ToFloat64(e.inflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.requests.WithLabelValues(outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.requests.WithLabelValues(outcomeFailure)))
	assert.Equal(t, 12.0, testutil.ToFloat64(e.outputToks))
	assert.Equal(t, 1, testutil.CollectAndCount(e.latency))
}

func TestExporter_BucketDispatched_CountsBuckets(t *testing.T) {
	e := NewExporter("run-2")
	e.BucketDispatched(0)
	e.BucketDispatched(30 * time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.buckets))

	families, err := e.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "replay_schedule_drift_seconds" {
			found = true
			assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}

func TestExporter_StreamPublishFailed_Counts(t *testing.T) {
	e := NewExporter("run-4")
	e.StreamPublishFailed()
	e.StreamPublishFailed()
	assert.Equal(t, 2.0, testutil.ToFloat64(e.streamErrs))
}

func TestExporter_Serve_ExposesMetricsEndpoint(t *testing.T) {
	// GIVEN a free port
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	e := NewExporter("run-3")
	e.RequestStarted()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, addr) }()

	// WHEN scraped
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	// THEN run-labelled metrics are present and shutdown is clean
	assert.True(t, strings.Contains(body, `replay_inflight_requests{run_id="run-3"} 1`), body)
	cancel()
	assert.NoError(t, <-done)
}
