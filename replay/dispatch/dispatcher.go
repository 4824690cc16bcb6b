// Package dispatch sends one completion request per prompt and turns the
// response into a replay.Outcome.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/replay-client/replay"
	"github.com/inference-sim/replay-client/replay/sink"
)

// DefaultMaxTokens is the max_tokens sent with every completion request.
const DefaultMaxTokens = 2048

// Config describes the serving endpoint.
type Config struct {
	Endpoint        string
	Model           string
	APIKey          string
	RoutingStrategy string
	MaxTokens       int
}

// Job is one request handed to the dispatcher by the scheduler.
type Job struct {
	ID          replay.RequestID
	Bucket      int64 // collapsed timestamp in ms
	BucketIndex int
	Request     replay.PromptRequest
}

// Completer records exactly-once completion; *tracker.CompletionTracker
// satisfies it.
type Completer interface {
	Complete(id replay.RequestID) error
}

// Observer is notified around every request; *metrics.Exporter satisfies it.
type Observer interface {
	RequestStarted()
	RequestFinished(o replay.Outcome)
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type completionResponse struct {
	Usage *struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
		TotalTokens      *int `json:"total_tokens"`
	} `json:"usage"`
	Choices []struct {
		Text *string `json:"text"`
	} `json:"choices"`
}

// Dispatcher issues requests over a shared pooled client. It is safe for
// concurrent use by any number of goroutines.
type Dispatcher struct {
	cfg       Config
	url       string
	client    *http.Client
	completer Completer
	sink      sink.Sink
	observer  Observer

	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a Dispatcher. observer may be nil.
func New(cfg Config, client *http.Client, completer Completer, s sink.Sink, observer Observer) *Dispatcher {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Dispatcher{
		cfg:       cfg,
		url:       NormalizeEndpoint(cfg.Endpoint) + "/v1/completions",
		client:    client,
		completer: completer,
		sink:      s,
		observer:  observer,
	}
}

// Dispatch sends job, appends exactly one record to the sink and completes
// job.ID exactly once, whatever the request outcome. Request failures are
// recorded, never returned. The returned error is non-nil only for fatal
// conditions: a *replay.ScheduleViolation from the completer or a
// *replay.SinkError.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	if d.observer != nil {
		d.observer.RequestStarted()
	}
	outcome := d.Send(ctx, job.Request.Prompt)
	if d.observer != nil {
		d.observer.RequestFinished(outcome)
	}

	switch o := outcome.(type) {
	case replay.Success:
		d.succeeded.Add(1)
		logrus.Debugf("Batch %d, Request %d, completed in %.2f seconds with throughput %s tokens/s",
			job.BucketIndex, job.ID, o.Latency.Seconds(), formatThroughput(o.Throughput))
	case replay.Failure:
		d.failed.Add(1)
		status := "none"
		if o.StatusCode != nil {
			status = fmt.Sprint(*o.StatusCode)
		}
		logrus.Warnf("Batch %d, Request %d failed: status=%s, error=%v, raw response: %q",
			job.BucketIndex, job.ID, status, o.Err, o.RawBody)
	}

	var sinkErr error
	if err := d.sink.Append(replay.NewRequestRecord(job.ID, job.Bucket, outcome)); err != nil {
		sinkErr = &replay.SinkError{ID: job.ID, Err: err}
	}
	return errors.Join(sinkErr, d.completer.Complete(job.ID))
}

// Send performs one completion request and classifies the response.
func (d *Dispatcher) Send(ctx context.Context, prompt string) replay.Outcome {
	start := time.Now()
	failure := replay.Failure{StartTime: start, Input: prompt}

	body, err := json.Marshal(completionRequest{
		Model:       d.cfg.Model,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   d.cfg.MaxTokens,
	})
	if err != nil {
		failure.Err = &replay.TransportError{Err: fmt.Errorf("marshal error: %w", err)}
		return failure
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		failure.Err = &replay.TransportError{Err: fmt.Errorf("request creation error: %w", err)}
		return failure
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}
	if d.cfg.RoutingStrategy != "" {
		req.Header.Set("routing-strategy", d.cfg.RoutingStrategy)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		failure.Err = &replay.TransportError{Err: err}
		return failure
	}
	defer func() { _ = resp.Body.Close() }()

	status := resp.StatusCode
	failure.StatusCode = &status
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		failure.RawBody = string(raw)
		failure.Err = &replay.TransportError{Err: fmt.Errorf("read error: %w", err)}
		return failure
	}
	end := time.Now()

	var decoded completionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		failure.RawBody = string(raw)
		failure.Err = &replay.DecodeError{StatusCode: status, Body: string(raw), Err: err}
		return failure
	}
	if err := checkFields(&decoded); err != nil {
		failure.RawBody = string(raw)
		failure.Err = &replay.DecodeError{StatusCode: status, Body: string(raw), Err: err}
		return failure
	}

	latency := end.Sub(start)
	usage := decoded.Usage
	return replay.Success{
		StatusCode:   status,
		StartTime:    start,
		EndTime:      end,
		Latency:      latency,
		Throughput:   replay.Throughput(*usage.CompletionTokens, latency),
		PromptTokens: *usage.PromptTokens,
		OutputTokens: *usage.CompletionTokens,
		TotalTokens:  *usage.TotalTokens,
		Input:        prompt,
		Output:       *decoded.Choices[0].Text,
	}
}

// Counts returns how many dispatched requests succeeded and failed so far.
func (d *Dispatcher) Counts() (succeeded, failed int64) {
	return d.succeeded.Load(), d.failed.Load()
}

func checkFields(r *completionResponse) error {
	switch {
	case r.Usage == nil:
		return errors.New("response has no usage")
	case r.Usage.PromptTokens == nil:
		return errors.New("usage has no prompt_tokens")
	case r.Usage.CompletionTokens == nil:
		return errors.New("usage has no completion_tokens")
	case r.Usage.TotalTokens == nil:
		return errors.New("usage has no total_tokens")
	case len(r.Choices) == 0:
		return errors.New("response has no choices")
	case r.Choices[0].Text == nil:
		return errors.New("first choice has no text")
	}
	return nil
}

func formatThroughput(tp *float64) string {
	if tp == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *tp)
}
