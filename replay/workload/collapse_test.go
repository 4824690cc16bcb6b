package workload

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/replay-client/replay"
)

func prompts(ps ...string) []replay.PromptRequest {
	out := make([]replay.PromptRequest, len(ps))
	for i, p := range ps {
		out[i] = replay.PromptRequest{Prompt: p}
	}
	return out
}

func promptsOf(b Bucket) []string {
	out := make([]string, len(b.Requests))
	for i, r := range b.Requests {
		out[i] = r.Prompt
	}
	return out
}

func TestCollapse_ExampleTrace_MergesIntoSecondBuckets(t *testing.T) {
	// GIVEN batches at 0ms and 1500ms
	batches := []replay.WorkloadBatch{
		{TimestampMs: 0, Requests: prompts("A")},
		{TimestampMs: 1500, Requests: prompts("B", "C")},
	}

	// WHEN collapsed with a 1000ms unit
	cw, err := Collapse(batches, 1000)
	require.NoError(t, err)

	// THEN buckets are {0:[A], 1000:[B,C]}
	require.Len(t, cw, 2)
	assert.Equal(t, int64(0), cw[0].TimestampMs)
	assert.Equal(t, []string{"A"}, promptsOf(cw[0]))
	assert.Equal(t, int64(1000), cw[1].TimestampMs)
	assert.Equal(t, []string{"B", "C"}, promptsOf(cw[1]))
}

func TestCollapse_UnsortedInput_PreservesEncounterOrder(t *testing.T) {
	// GIVEN unsorted batches, two of which share bucket 2000
	batches := []replay.WorkloadBatch{
		{TimestampMs: 2500, Requests: prompts("x1", "x2")},
		{TimestampMs: 10, Requests: prompts("a")},
		{TimestampMs: 2001, Requests: prompts("y")},
	}

	cw, err := Collapse(batches, 1000)
	require.NoError(t, err)

	// THEN bucket 2000 holds batches in encounter order, then within-batch order
	require.Len(t, cw, 2)
	assert.Equal(t, []int64{0, 2000}, cw.Timestamps())
	assert.Equal(t, []string{"x1", "x2", "y"}, promptsOf(cw[1]))
}

func TestCollapse_RandomTraces_NoLossSortedMultiples(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 50; trial++ {
		unit := int64(rng.Intn(2000) + 1)
		var batches []replay.WorkloadBatch
		total := 0
		for i := 0; i < rng.Intn(40)+1; i++ {
			n := rng.Intn(4)
			batches = append(batches, replay.WorkloadBatch{
				TimestampMs: int64(rng.Intn(60000)),
				Requests:    make([]replay.PromptRequest, n),
			})
			total += n
		}

		cw, err := Collapse(batches, unit)
		require.NoError(t, err)

		assert.Equal(t, total, cw.TotalRequests(), "trial %d: request count changed", trial)
		require.NoError(t, cw.Validate(), "trial %d", trial)
		for _, b := range cw {
			assert.Zero(t, b.TimestampMs%unit, "trial %d: bucket %d not a multiple of %d", trial, b.TimestampMs, unit)
		}
	}
}

func TestCollapse_UnitOne_UniqueTimestamps_IsRegrouping(t *testing.T) {
	batches := []replay.WorkloadBatch{
		{TimestampMs: 30, Requests: prompts("c")},
		{TimestampMs: 10, Requests: prompts("a")},
		{TimestampMs: 20, Requests: prompts("b1", "b2")},
	}

	cw, err := Collapse(batches, 1)
	require.NoError(t, err)

	require.Len(t, cw, 3)
	assert.Equal(t, []int64{10, 20, 30}, cw.Timestamps())
	assert.Equal(t, []string{"b1", "b2"}, promptsOf(cw[1]))
}

func TestCollapse_NonPositiveUnit_ConfigurationError(t *testing.T) {
	for _, unit := range []int64{0, -5} {
		_, err := Collapse(nil, unit)
		var ce *replay.ConfigurationError
		assert.True(t, errors.As(err, &ce), "unit %d: expected ConfigurationError, got %v", unit, err)
	}
}

func TestCollapse_NegativeTimestamp_FloorsDown(t *testing.T) {
	cw, err := Collapse([]replay.WorkloadBatch{{TimestampMs: -1, Requests: prompts("n")}}, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), cw[0].TimestampMs)
}

func TestCollapsedWorkload_Validate(t *testing.T) {
	var ce *replay.ConfigurationError

	err := CollapsedWorkload{}.Validate()
	assert.True(t, errors.As(err, &ce), "empty workload must fail")

	err = CollapsedWorkload{{TimestampMs: 5}, {TimestampMs: 5}}.Validate()
	assert.True(t, errors.As(err, &ce), "repeated bucket must fail")

	err = CollapsedWorkload{{TimestampMs: 9}, {TimestampMs: 3}}.Validate()
	assert.True(t, errors.As(err, &ce), "decreasing buckets must fail")

	assert.NoError(t, CollapsedWorkload{{TimestampMs: 0}, {TimestampMs: 1}}.Validate())
}
