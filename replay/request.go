package replay

import "strconv"

// PromptRequest is one prompt from a workload trace. Immutable once parsed.
type PromptRequest struct {
	PromptLength *int   `json:"Prompt Length"`
	OutputLength *int   `json:"Output Length"`
	Prompt       string `json:"prompt"`
}

// WorkloadBatch is one trace record: the requests that arrived at TimestampMs.
// Traces may be unsorted and may hold several batches for the same bucket.
type WorkloadBatch struct {
	TimestampMs int64           `json:"timestamp"`
	Requests    []PromptRequest `json:"requests"`
}

// RequestID identifies one dispatched request. Assigned once in dispatch
// order and never reused within a run.
type RequestID int64

func (id RequestID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// RequestIDSource hands out monotonically increasing RequestIDs starting at 0.
// Not safe for concurrent use; the scheduler is its only caller.
type RequestIDSource struct {
	next RequestID
}

// Next returns the next unused id.
func (s *RequestIDSource) Next() RequestID {
	id := s.next
	s.next++
	return id
}

// Issued returns how many ids have been handed out.
func (s *RequestIDSource) Issued() int64 {
	return int64(s.next)
}
