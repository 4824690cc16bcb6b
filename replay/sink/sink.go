// Package sink persists one RequestRecord per dispatched request.
//
// Every Sink is safe for concurrent Append calls from many dispatch
// goroutines; a single Append is atomic with respect to other Appends, but
// records may land in any order.
package sink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/inference-sim/replay-client/replay"
)

// Sink is an append-only writer of terminal request outcomes.
type Sink interface {
	Append(rec replay.RequestRecord) error
	Close() error
}

// Format names an on-disk result format.
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
	FormatSQLite  Format = "sqlite"
)

// validFormats maps accepted format strings.
var validFormats = map[Format]bool{
	FormatJSONL:   true,
	FormatParquet: true,
	FormatSQLite:  true,
}

// IsValidFormat returns true if the given string names a supported result format.
func IsValidFormat(format string) bool {
	return validFormats[Format(format)]
}

// Open creates the on-disk sink for format at path.
func Open(format Format, path string, runID replay.RunID) (Sink, error) {
	switch format {
	case FormatJSONL, "":
		return CreateJSONL(path)
	case FormatParquet:
		return CreateParquet(path, defaultParquetBatch)
	case FormatSQLite:
		return OpenSQLite(path, runID)
	default:
		return nil, &replay.ConfigurationError{Field: "output_format", Reason: fmt.Sprintf("unknown format %q", format)}
	}
}

// Multi fans each record out to several sinks.
type Multi []Sink

// Append writes rec to every sink, attempting all of them even if one fails.
func (m Multi) Append(rec replay.RequestRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps records in memory (goroutine-safe).
type Recorder struct {
	mu      sync.Mutex
	records []replay.RequestRecord
}

// Append captures one record.
func (r *Recorder) Append(rec replay.RequestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Records returns a copy of all recorded records.
func (r *Recorder) Records() []replay.RequestRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]replay.RequestRecord, len(r.records))
	copy(result, r.records)
	return result
}
