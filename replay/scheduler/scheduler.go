// Package scheduler replays a collapsed workload against wall-clock time.
//
// Buckets are walked in ascending timestamp order. The scheduler sleeps
// until each bucket's offset from the run's start, then submits every
// request of the bucket as an independent task and moves on without
// waiting for responses. All tasks are joined before the run completes.
//
// Abort policy: a fatal error (cancellation, schedule violation or sink
// failure) stops bucket iteration and cancels the context shared by every
// in-flight request. The scheduler then waits for all tasks, each of which
// still records its (cancelled) outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/replay-client/replay"
	"github.com/inference-sim/replay-client/replay/dispatch"
	"github.com/inference-sim/replay-client/replay/tracker"
	"github.com/inference-sim/replay-client/replay/workload"
)

// Dispatcher resolves one job. *dispatch.Dispatcher satisfies it.
// A non-nil error is fatal for the run.
type Dispatcher interface {
	Dispatch(ctx context.Context, job dispatch.Job) error
}

// BucketObserver is told the drift of every submitted bucket.
type BucketObserver interface {
	BucketDispatched(drift time.Duration)
}

type outcomeCounter interface {
	Counts() (succeeded, failed int64)
}

// BucketDispatch records when one bucket was submitted.
type BucketDispatch struct {
	Index       int
	TimestampMs int64
	Target      time.Time
	Actual      time.Time
	Drift       time.Duration
	Requests    int
}

// Stats summarizes a finished (or aborted) run.
type Stats struct {
	Dispatched      int64         `yaml:"dispatched"`
	Completed       int64         `yaml:"completed"`
	CompletionRatio float64       `yaml:"completion_ratio"`
	Succeeded       int64         `yaml:"succeeded"`
	Failed          int64         `yaml:"failed"`
	Buckets         int           `yaml:"buckets"`
	MaxDrift        time.Duration `yaml:"max_drift"`
	MeanDrift       time.Duration `yaml:"mean_drift"`
	Duration        time.Duration `yaml:"duration"`
	AchievedRate    float64       `yaml:"achieved_rate"` // dispatched requests per second
}

// Scheduler runs one replay. It is single-use.
type Scheduler struct {
	dispatcher Dispatcher
	tracker    *tracker.CompletionTracker
	clock      Clock
	observer   BucketObserver

	state atomic.Value // State

	mu         sync.Mutex
	t0         time.Time
	dispatches []BucketDispatch
}

// New creates an idle Scheduler. clock defaults to RealClock; observer may be nil.
func New(d Dispatcher, t *tracker.CompletionTracker, clock Clock, observer BucketObserver) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	s := &Scheduler{dispatcher: d, tracker: t, clock: clock, observer: observer}
	s.state.Store(StateIdle)
	return s
}

// State returns the current lifecycle state. Safe for concurrent use.
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// StartTime returns T0, the zero point of the schedule. Zero before Run.
func (s *Scheduler) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t0
}

// Dispatches returns a copy of the per-bucket submission log.
func (s *Scheduler) Dispatches() []BucketDispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BucketDispatch, len(s.dispatches))
	copy(out, s.dispatches)
	return out
}

// Run replays cw and blocks until every submitted request has resolved.
// An invalid workload is rejected with a *replay.ConfigurationError and the
// scheduler stays idle. Any other error leaves it aborted; Stats are
// returned either way once the scheduler has started.
func (s *Scheduler) Run(ctx context.Context, cw workload.CollapsedWorkload) (Stats, error) {
	if err := cw.Validate(); err != nil {
		return Stats{}, err
	}
	if !s.state.CompareAndSwap(StateIdle, StateRunning) {
		return Stats{}, fmt.Errorf("scheduler already started (state %s)", s.State())
	}

	t0 := s.clock.Now()
	s.mu.Lock()
	s.t0 = t0
	s.mu.Unlock()
	logrus.Infof("Replaying %d requests in %d buckets", cw.TotalRequests(), len(cw))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, taskCtx := errgroup.WithContext(runCtx)

	var ids replay.RequestIDSource
	loopErr := s.submitAll(taskCtx, g, cw, t0, &ids)
	if loopErr != nil {
		cancel()
	} else {
		s.state.Store(StateDraining)
		logrus.Infof("All %d requests submitted, waiting for outstanding responses", ids.Issued())
	}

	waitErr := g.Wait()
	stats := s.stats(t0, ids.Issued())

	// A task error cancels taskCtx, which surfaces in the loop as a context
	// error; report the task's error instead.
	err := waitErr
	if err == nil {
		err = loopErr
	}
	if err != nil {
		s.state.Store(StateAborted)
		logrus.Warnf("Replay aborted after %d of %d requests: %v", stats.Dispatched, cw.TotalRequests(), err)
		return stats, err
	}
	s.state.Store(StateCompleted)
	logrus.Infof("Replay completed: %d requests (%d succeeded, %d failed) in %.2fs, achieved %.2f req/s, max drift %.3fs",
		stats.Dispatched, stats.Succeeded, stats.Failed, stats.Duration.Seconds(), stats.AchievedRate, stats.MaxDrift.Seconds())
	return stats, nil
}

func (s *Scheduler) submitAll(ctx context.Context, g *errgroup.Group, cw workload.CollapsedWorkload, t0 time.Time, ids *replay.RequestIDSource) error {
	for i, b := range cw {
		target := t0.Add(time.Duration(b.TimestampMs) * time.Millisecond)

		var drift time.Duration
		now := s.clock.Now()
		if now.Before(target) {
			wait := target.Sub(now)
			logrus.Infof("Waiting %.2fs before sending batch %d", wait.Seconds(), i)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(wait):
			}
			now = target
		} else {
			drift = now.Sub(target)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if drift == 0 {
			logrus.Infof("Sending batch %d with %d requests at %.3fs (on schedule)", i, len(b.Requests), float64(b.TimestampMs)/1000)
		} else {
			logrus.Infof("Sending batch %d with %d requests at %.3fs (behind by %.3fs)", i, len(b.Requests), float64(b.TimestampMs)/1000, drift.Seconds())
		}

		for _, req := range b.Requests {
			id := ids.Next()
			if err := s.tracker.Register(id); err != nil {
				return err
			}
			job := dispatch.Job{ID: id, Bucket: b.TimestampMs, BucketIndex: i, Request: req}
			g.Go(func() error {
				return s.dispatcher.Dispatch(ctx, job)
			})
		}

		s.mu.Lock()
		s.dispatches = append(s.dispatches, BucketDispatch{
			Index:       i,
			TimestampMs: b.TimestampMs,
			Target:      target,
			Actual:      now,
			Drift:       drift,
			Requests:    len(b.Requests),
		})
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.BucketDispatched(drift)
		}
	}
	return nil
}

func (s *Scheduler) stats(t0 time.Time, dispatched int64) Stats {
	snap := s.tracker.Snapshot()
	st := Stats{
		Dispatched:      dispatched,
		Completed:       snap.Completed,
		CompletionRatio: snap.Ratio,
		Duration:        s.clock.Now().Sub(t0),
	}
	if c, ok := s.dispatcher.(outcomeCounter); ok {
		st.Succeeded, st.Failed = c.Counts()
	}

	s.mu.Lock()
	st.Buckets = len(s.dispatches)
	var total time.Duration
	for _, d := range s.dispatches {
		total += d.Drift
		if d.Drift > st.MaxDrift {
			st.MaxDrift = d.Drift
		}
	}
	s.mu.Unlock()
	if st.Buckets > 0 {
		st.MeanDrift = total / time.Duration(st.Buckets)
	}
	if st.Duration > 0 {
		st.AchievedRate = float64(dispatched) / st.Duration.Seconds()
	}
	return st
}

// IsFatal reports whether err came from broken bookkeeping or a lost result
// write rather than from cancellation.
func IsFatal(err error) bool {
	var v *replay.ScheduleViolation
	var se *replay.SinkError
	return errors.As(err, &v) || errors.As(err, &se)
}
