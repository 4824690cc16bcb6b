package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/inference-sim/replay-client/replay"
)

// ScaleResult describes how Scale reshaped a workload.
type ScaleResult struct {
	Workload       CollapsedWorkload
	CurrentAvgRate float64 // requests/s before scaling
	ScaleFactor    float64
	Sampled        int
}

// Scale resamples the workload so its average request rate approaches
// targetRate (requests/s). Requests are grouped into one-second windows
// anchored at the earliest bucket. Each second keeps
// floor(count*factor + carry) requests, sampled without replacement and
// capped at the window's pool, and the fractional remainder carries into
// the next second. Output buckets sit at minTs + second*1000.
//
// Sampling draws only from rng, so a seeded rng gives a reproducible result.
// Sampled requests keep their original relative order.
func Scale(cw CollapsedWorkload, targetRate float64, rng *rand.Rand) (*ScaleResult, error) {
	if targetRate <= 0 || math.IsNaN(targetRate) || math.IsInf(targetRate, 0) {
		return nil, &replay.ConfigurationError{Field: "target_avg_rps", Reason: fmt.Sprintf("must be a positive finite rate, got %v", targetRate)}
	}
	if len(cw) == 0 {
		return nil, &replay.ConfigurationError{Field: "workload", Reason: "cannot scale an empty workload"}
	}

	minTs := cw[0].TimestampMs
	for _, b := range cw {
		if b.TimestampMs < minTs {
			minTs = b.TimestampMs
		}
	}

	windows := make(map[int64][]replay.PromptRequest)
	var lastSecond int64
	total := 0
	for _, b := range cw {
		second := (b.TimestampMs - minTs) / 1000
		windows[second] = append(windows[second], b.Requests...)
		if second > lastSecond {
			lastSecond = second
		}
		total += len(b.Requests)
	}
	if total == 0 {
		return nil, &replay.ConfigurationError{Field: "workload", Reason: "cannot scale a workload with no requests"}
	}

	span := float64(lastSecond + 1)
	current := float64(total) / span
	factor := targetRate / current

	seconds := make([]int64, 0, len(windows))
	for s := range windows {
		seconds = append(seconds, s)
	}
	sort.Slice(seconds, func(i, j int) bool { return seconds[i] < seconds[j] })

	result := &ScaleResult{CurrentAvgRate: current, ScaleFactor: factor}
	carry := 0.0
	for _, s := range seconds {
		pool := windows[s]
		exact := float64(len(pool))*factor + carry
		n := int(math.Floor(exact))
		carry = exact - float64(n)
		if n <= 0 {
			continue
		}
		if n > len(pool) {
			n = len(pool)
		}
		result.Workload = append(result.Workload, Bucket{
			TimestampMs: minTs + s*1000,
			Requests:    sampleWithoutReplacement(pool, n, rng),
		})
		result.Sampled += n
	}
	return result, nil
}

// sampleWithoutReplacement picks n distinct elements of pool. The picked
// indices are chosen by a partial Fisher-Yates shuffle and returned in
// ascending index order.
func sampleWithoutReplacement(pool []replay.PromptRequest, n int, rng *rand.Rand) []replay.PromptRequest {
	idx := make([]int, len(pool))
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	picked := idx[:n]
	sort.Ints(picked)

	out := make([]replay.PromptRequest, n)
	for i, k := range picked {
		out[i] = pool[k]
	}
	return out
}
