// Package replay provides the shared types for trace-driven load replay
// against an OpenAI-compatible serving endpoint.
//
// # Reading Guide
//
// Start with these files:
//   - request.go: PromptRequest, WorkloadBatch and RequestID
//   - outcome.go: the Success/Failure outcome variant and its persisted RequestRecord
//   - errors.go: typed errors that separate per-request failures from fatal ones
//
// # Architecture
//
// The replay package defines data types; the pipeline lives in sub-packages:
//   - replay/workload/: trace loading, time collapsing, rate scaling, intended-load reports
//   - replay/scheduler/: the timed bucket walk and the tracked task group
//   - replay/dispatch/: one HTTP request per prompt over a pooled transport
//   - replay/tracker/: exactly-once completion bookkeeping
//   - replay/sink/: append-only result writers (JSONL, Parquet, SQLite, NATS)
//   - replay/metrics/, replay/monitor/, replay/artifact/: observability and upload
//
// Data flows trace -> workload.Collapse -> (workload.Scale) -> scheduler ->
// dispatch (N concurrent) -> tracker + sink.
package replay
