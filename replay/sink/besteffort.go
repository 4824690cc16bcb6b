package sink

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/replay-client/replay"
)

// warnEvery limits drop warnings to the first failure and every warnEvery-th after.
const warnEvery = 1000

// BestEffort wraps a secondary sink, such as the NATS stream, whose write
// failures must never end a run. Failed appends are logged, counted and
// reported to onDrop; Append always returns nil.
type BestEffort struct {
	name    string
	inner   Sink
	onDrop  func()
	dropped atomic.Int64
}

// NewBestEffort wraps inner. onDrop may be nil.
func NewBestEffort(name string, inner Sink, onDrop func()) *BestEffort {
	return &BestEffort{name: name, inner: inner, onDrop: onDrop}
}

// Append forwards rec and swallows any error.
func (b *BestEffort) Append(rec replay.RequestRecord) error {
	if err := b.inner.Append(rec); err != nil {
		n := b.dropped.Add(1)
		if n == 1 || n%warnEvery == 0 {
			logrus.Warnf("%s: dropped record %d (%d dropped so far): %v", b.name, rec.RequestID, n, err)
		}
		if b.onDrop != nil {
			b.onDrop()
		}
	}
	return nil
}

// Dropped returns how many appends failed.
func (b *BestEffort) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes inner; a close failure is logged, not returned.
func (b *BestEffort) Close() error {
	if err := b.inner.Close(); err != nil {
		logrus.Warnf("%s: close failed: %v", b.name, err)
	}
	if n := b.dropped.Load(); n > 0 {
		logrus.Warnf("%s: %d records were not delivered", b.name, n)
	}
	return nil
}
