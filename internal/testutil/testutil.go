// Package testutil provides shared test infrastructure: a fake completion
// endpoint, trace fixtures and float assertions.
package testutil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// CompletionServer is a fake /v1/completions endpoint returning a fixed
// usage block. Prompts listed in FailPrompts get a 500 with a text body.
type CompletionServer struct {
	*httptest.Server

	mu          sync.Mutex
	prompts     []string
	FailPrompts map[string]bool
}

// NewCompletionServer starts a server closed automatically at test end.
func NewCompletionServer(t *testing.T) *CompletionServer {
	t.Helper()
	s := &CompletionServer{FailPrompts: map[string]bool{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *CompletionServer) handle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, body.Prompt)
	fail := s.FailPrompts[body.Prompt]
	s.mu.Unlock()

	if fail {
		http.Error(w, "upstream overloaded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{{"text": "echo: " + body.Prompt}},
		"usage":   map[string]interface{}{"prompt_tokens": 4, "completion_tokens": 8, "total_tokens": 12},
	})
}

// Prompts returns every prompt received, in arrival order.
func (s *CompletionServer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// WriteTrace writes JSONL trace lines to dir/name and returns the path.
func WriteTrace(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
