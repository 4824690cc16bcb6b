package replay

import "fmt"

// ConfigurationError reports invalid startup input. Fatal before any
// request is dispatched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ScheduleViolation reports broken completion bookkeeping: a double
// completion, a completion of an unregistered id, or a duplicate
// registration. It indicates a bug and aborts the run.
type ScheduleViolation struct {
	ID     RequestID
	Reason string
}

func (e *ScheduleViolation) Error() string {
	return fmt.Sprintf("schedule violation: request %d: %s", e.ID, e.Reason)
}

// TransportError wraps a connection, timeout or other network failure.
// Recorded in a Failure outcome; never aborts a run.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that could not be decoded or lacked
// the usage/choice fields. Body keeps the raw response for diagnosis.
type DecodeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SinkError reports a failed result write. The record is the product of
// the run, so a lost write aborts it.
type SinkError struct {
	ID  RequestID
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("result sink: request %d: %v", e.ID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
