package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/inference-sim/replay-client/replay"
)

// JSONL writes one JSON object per line through a buffer.
//
// Durability: lines sit in a 64 KiB buffer until it fills or Close runs.
// Records still buffered when the process dies abnormally are lost; a
// clean Close (including after an aborted run) flushes everything. Flush
// forces buffered lines out early.
type JSONL struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	closed bool
}

// CreateJSONL truncates or creates path and writes records to it.
func CreateJSONL(path string) (*JSONL, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result file: %w", err)
	}
	return NewJSONL(f), nil
}

// NewJSONL writes records to w. If w is an io.Closer it is closed by Close.
func NewJSONL(w io.Writer) *JSONL {
	j := &JSONL{w: bufio.NewWriterSize(w, 64<<10)}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// Append encodes rec and writes the full line under the lock, so lines
// from concurrent callers never interleave.
func (j *JSONL) Append(rec replay.RequestRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding record %d: %w", rec.RequestID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("jsonl sink closed")
	}
	if _, err := j.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing record %d: %w", rec.RequestID, err)
	}
	return nil
}

// Flush writes buffered lines to the underlying writer.
func (j *JSONL) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Flush()
}

// Close flushes and closes the underlying writer. Safe to call twice.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	err := j.w.Flush()
	if j.closer != nil {
		err = errors.Join(err, j.closer.Close())
	}
	return err
}
