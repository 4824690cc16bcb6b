// Package workload turns a recorded request trace into time-ordered buckets
// for replay: loading, collapsing to a minimum time unit, optional rate
// scaling, and intended-load reports.
package workload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/inference-sim/replay-client/replay"
)

// maxTraceLineBytes bounds one trace record; prompts can be long.
const maxTraceLineBytes = 64 << 20

// LoadTrace reads a newline-delimited JSON trace file.
func LoadTrace(path string) ([]replay.WorkloadBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadTrace(f)
}

// ReadTrace parses trace records, one JSON object per line. Blank lines
// are skipped; a malformed line fails with its line number.
func ReadTrace(r io.Reader) ([]replay.WorkloadBatch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxTraceLineBytes)

	var batches []replay.WorkloadBatch
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		var raw struct {
			Timestamp *int64 `json:"timestamp"`
			Requests  []struct {
				Prompt       *string `json:"prompt"`
				PromptLength *int    `json:"Prompt Length"`
				OutputLength *int    `json:"Output Length"`
			} `json:"requests"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		if raw.Timestamp == nil {
			return nil, fmt.Errorf("trace line %d: missing timestamp", line)
		}
		batch := replay.WorkloadBatch{
			TimestampMs: *raw.Timestamp,
			Requests:    make([]replay.PromptRequest, 0, len(raw.Requests)),
		}
		for i, req := range raw.Requests {
			if req.Prompt == nil {
				return nil, fmt.Errorf("trace line %d: request %d: missing prompt", line, i)
			}
			batch.Requests = append(batch.Requests, replay.PromptRequest{
				Prompt:       *req.Prompt,
				PromptLength: req.PromptLength,
				OutputLength: req.OutputLength,
			})
		}
		batches = append(batches, batch)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return batches, nil
}
