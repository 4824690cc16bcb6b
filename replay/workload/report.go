package workload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// SecondCount is the number of requests scheduled in one wall-clock second.
type SecondCount struct {
	Second int64
	Count  int
}

// IntendedRPS returns the per-second request counts the workload intends
// to send, keyed by floor(bucket/1000), in ascending order.
func IntendedRPS(cw CollapsedWorkload) []SecondCount {
	counts := make(map[int64]int)
	for _, b := range cw {
		counts[floorToUnit(b.TimestampMs, 1000)/1000] += len(b.Requests)
	}
	out := make([]SecondCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, SecondCount{Second: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Second < out[j].Second })
	return out
}

// WriteIntendedRPS writes "second,count" lines.
func WriteIntendedRPS(path string, cw CollapsedWorkload) error {
	var sb strings.Builder
	for _, sc := range IntendedRPS(cw) {
		fmt.Fprintf(&sb, "%d,%d\n", sc.Second, sc.Count)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("writing intended rps: %w", err)
	}
	return nil
}

// WriteIntendedTraffic writes one "seconds,count" line per bucket, where
// seconds is the bucket timestamp in fractional seconds.
func WriteIntendedTraffic(path string, cw CollapsedWorkload) error {
	var sb strings.Builder
	for _, b := range cw {
		sb.WriteString(strconv.FormatFloat(float64(b.TimestampMs)/1000.0, 'f', -1, 64))
		fmt.Fprintf(&sb, ",%d\n", len(b.Requests))
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("writing intended traffic: %w", err)
	}
	return nil
}

// CollapsedPath derives "<trace stem>_collapsed.jsonl" from a trace path.
func CollapsedPath(tracePath string) string {
	ext := filepath.Ext(tracePath)
	return strings.TrimSuffix(tracePath, ext) + "_collapsed.jsonl"
}

// WriteCollapsed persists the workload as one trace record per bucket,
// ascending, in the same shape LoadTrace reads.
func WriteCollapsed(path string, cw CollapsedWorkload) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating collapsed workload: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, b := range cw {
		if err := enc.Encode(b); err != nil {
			_ = f.Close()
			return fmt.Errorf("writing bucket %d: %w", b.TimestampMs, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flushing collapsed workload: %w", err)
	}
	return f.Close()
}
