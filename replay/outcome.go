package replay

import "time"

// Outcome is the terminal result of one dispatched request: either Success
// or Failure. Exactly one Outcome is produced per RequestID.
type Outcome interface {
	// Started returns when the request was handed to the transport.
	Started() time.Time
	outcome()
}

// Success is a response that decoded and carried usage and choice fields.
type Success struct {
	StatusCode   int
	StartTime    time.Time
	EndTime      time.Time
	Latency      time.Duration
	Throughput   *float64 // output tokens per second; nil when latency <= 0
	PromptTokens int
	OutputTokens int
	TotalTokens  int
	Input        string
	Output       string
}

// Failure is any request that did not produce a usable response.
type Failure struct {
	StatusCode *int // nil when no response was received
	StartTime  time.Time
	Input      string
	RawBody    string
	Err        error // *TransportError or *DecodeError
}

func (s Success) Started() time.Time { return s.StartTime }
func (f Failure) Started() time.Time { return f.StartTime }

func (Success) outcome() {}
func (Failure) outcome() {}

// Throughput returns outputTokens per second of latency, or nil when the
// latency is zero or negative.
func Throughput(outputTokens int, latency time.Duration) *float64 {
	if latency <= 0 {
		return nil
	}
	tp := float64(outputTokens) / latency.Seconds()
	return &tp
}

// RequestRecord is the persisted form of an Outcome: one self-contained
// line per dispatched request. Fields that have no value for a Failure are null.
type RequestRecord struct {
	RequestID    RequestID `json:"request_id"`
	Bucket       int64     `json:"bucket"`
	StatusCode   *int      `json:"status_code"`
	StartTime    float64   `json:"start_time"`
	EndTime      *float64  `json:"end_time"`
	Latency      *float64  `json:"latency"`
	Throughput   *float64  `json:"throughput"`
	PromptTokens *int      `json:"prompt_tokens"`
	OutputTokens *int      `json:"output_tokens"`
	TotalTokens  *int      `json:"total_tokens"`
	Input        string    `json:"input"`
	Output       *string   `json:"output"`
	Error        *string   `json:"error"`
	RawResponse  *string   `json:"raw_response,omitempty"`
}

// Succeeded reports whether the record came from a Success outcome.
func (r RequestRecord) Succeeded() bool {
	return r.Output != nil
}

// NewRequestRecord converts an outcome into its persisted form.
func NewRequestRecord(id RequestID, bucket int64, o Outcome) RequestRecord {
	rec := RequestRecord{
		RequestID: id,
		Bucket:    bucket,
		StartTime: unixSeconds(o.Started()),
	}
	switch v := o.(type) {
	case Success:
		status := v.StatusCode
		end := unixSeconds(v.EndTime)
		latency := v.Latency.Seconds()
		prompt, output, total := v.PromptTokens, v.OutputTokens, v.TotalTokens
		text := v.Output
		rec.StatusCode = &status
		rec.EndTime = &end
		rec.Latency = &latency
		rec.Throughput = v.Throughput
		rec.PromptTokens = &prompt
		rec.OutputTokens = &output
		rec.TotalTokens = &total
		rec.Input = v.Input
		rec.Output = &text
	case Failure:
		rec.StatusCode = v.StatusCode
		rec.Input = v.Input
		if v.Err != nil {
			msg := v.Err.Error()
			rec.Error = &msg
		}
		if v.RawBody != "" {
			body := v.RawBody
			rec.RawResponse = &body
		}
	}
	return rec
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
