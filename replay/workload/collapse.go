package workload

import (
	"fmt"
	"sort"

	"github.com/inference-sim/replay-client/replay"
)

// Bucket holds the merged requests of one collapsed timestamp.
type Bucket struct {
	TimestampMs int64                  `json:"timestamp"`
	Requests    []replay.PromptRequest `json:"requests"`
}

// CollapsedWorkload maps bucket timestamps to their requests, kept as a
// slice sorted by strictly increasing TimestampMs.
type CollapsedWorkload []Bucket

// TotalRequests returns the number of requests across all buckets.
func (cw CollapsedWorkload) TotalRequests() int {
	n := 0
	for _, b := range cw {
		n += len(b.Requests)
	}
	return n
}

// Timestamps returns the bucket keys in iteration order.
func (cw CollapsedWorkload) Timestamps() []int64 {
	ts := make([]int64, len(cw))
	for i, b := range cw {
		ts[i] = b.TimestampMs
	}
	return ts
}

// Validate checks that the workload is non-empty and its bucket keys are
// strictly increasing.
func (cw CollapsedWorkload) Validate() error {
	if len(cw) == 0 {
		return &replay.ConfigurationError{Field: "workload", Reason: "no buckets to replay"}
	}
	for i := 1; i < len(cw); i++ {
		if cw[i].TimestampMs <= cw[i-1].TimestampMs {
			return &replay.ConfigurationError{
				Field:  "workload",
				Reason: fmt.Sprintf("bucket %d timestamp %d does not follow %d", i, cw[i].TimestampMs, cw[i-1].TimestampMs),
			}
		}
	}
	return nil
}

// Collapse discretizes batch timestamps to multiples of unitMs and merges
// all requests that land in the same bucket. Within a bucket, requests keep
// the order their batches were encountered, then their within-batch order.
// No request is dropped or duplicated.
func Collapse(batches []replay.WorkloadBatch, unitMs int64) (CollapsedWorkload, error) {
	if unitMs <= 0 {
		return nil, &replay.ConfigurationError{Field: "minimum_time_unit", Reason: fmt.Sprintf("must be positive, got %d", unitMs)}
	}

	merged := make(map[int64][]replay.PromptRequest)
	for _, batch := range batches {
		ts := floorToUnit(batch.TimestampMs, unitMs)
		merged[ts] = append(merged[ts], batch.Requests...)
	}

	keys := make([]int64, 0, len(merged))
	for ts := range merged {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	cw := make(CollapsedWorkload, 0, len(keys))
	for _, ts := range keys {
		cw = append(cw, Bucket{TimestampMs: ts, Requests: merged[ts]})
	}
	return cw, nil
}

// floorToUnit rounds ts down to a multiple of unit, toward negative infinity.
func floorToUnit(ts, unit int64) int64 {
	q := ts / unit
	if ts%unit != 0 && ts < 0 {
		q--
	}
	return q * unit
}
