// Package metrics exports live replay metrics in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/replay-client/replay"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Exporter owns a private registry so several runs (or tests) in one
// process never collide on metric registration.
type Exporter struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	latency    prometheus.Histogram
	drift      prometheus.Histogram
	inflight   prometheus.Gauge
	outputToks prometheus.Counter
	buckets    prometheus.Counter
	streamErrs prometheus.Counter
}

// NewExporter creates an exporter whose metrics carry a constant run_id label.
func NewExporter(runID replay.RunID) *Exporter {
	labels := prometheus.Labels{"run_id": string(runID)}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "replay_requests_total",
				Help:        "Dispatched requests by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "replay_request_latency_seconds",
			Help:        "End-to-end latency of successful requests",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5min
			ConstLabels: labels,
		}),
		drift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "replay_schedule_drift_seconds",
			Help:        "Lag between a bucket's target time and its dispatch",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 16),
			ConstLabels: labels,
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "replay_inflight_requests",
			Help:        "Requests sent and not yet resolved",
			ConstLabels: labels,
		}),
		outputToks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "replay_output_tokens_total",
			Help:        "Completion tokens returned by successful requests",
			ConstLabels: labels,
		}),
		buckets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "replay_buckets_dispatched_total",
			Help:        "Trace buckets whose requests have been submitted",
			ConstLabels: labels,
		}),
		streamErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "replay_stream_publish_failures_total",
			Help:        "Records the live stream failed to publish",
			ConstLabels: labels,
		}),
	}
	e.registry.MustRegister(e.requests, e.latency, e.drift, e.inflight, e.outputToks, e.buckets, e.streamErrs)
	return e
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// RequestStarted marks one more request in flight.
func (e *Exporter) RequestStarted() {
	e.inflight.Inc()
}

// RequestFinished records the outcome of one request.
func (e *Exporter) RequestFinished(o replay.Outcome) {
	e.inflight.Dec()
	switch v := o.(type) {
	case replay.Success:
		e.requests.WithLabelValues(outcomeSuccess).Inc()
		e.latency.Observe(v.Latency.Seconds())
		e.outputToks.Add(float64(v.OutputTokens))
	case replay.Failure:
		e.requests.WithLabelValues(outcomeFailure).Inc()
	}
}

// BucketDispatched records one bucket submission and its drift.
func (e *Exporter) BucketDispatched(drift time.Duration) {
	e.buckets.Inc()
	e.drift.Observe(drift.Seconds())
}

// StreamPublishFailed counts one record lost by the live stream.
func (e *Exporter) StreamPublishFailed() {
	e.streamErrs.Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("Serving Prometheus metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
