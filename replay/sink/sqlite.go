package sink

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inference-sim/replay-client/replay"
)

const createRequestsTable = `CREATE TABLE IF NOT EXISTS requests(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	request_id INTEGER,
	bucket INTEGER,
	status_code INTEGER,
	start_time REAL,
	end_time REAL,
	latency REAL,
	throughput REAL,
	prompt_tokens INTEGER,
	output_tokens INTEGER,
	total_tokens INTEGER,
	input TEXT,
	output TEXT,
	error TEXT
)`

const insertRequest = `INSERT INTO requests(
	run_id, request_id, bucket, status_code, start_time, end_time, latency, throughput,
	prompt_tokens, output_tokens, total_tokens, input, output, error)
	VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

// SQLite stores records as rows of a requests table tagged with the run id,
// so several runs can share one database file. Each Append is its own
// committed statement.
type SQLite struct {
	db     *sql.DB
	insert *sql.Stmt
	runID  replay.RunID
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, runID replay.RunID) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One writer connection avoids SQLITE_BUSY between concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createRequestsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating requests table: %w", err)
	}
	stmt, err := db.Prepare(insertRequest)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	return &SQLite{db: db, insert: stmt, runID: runID}, nil
}

// Append inserts one row.
func (s *SQLite) Append(rec replay.RequestRecord) error {
	_, err := s.insert.Exec(
		string(s.runID), int64(rec.RequestID), rec.Bucket, rec.StatusCode,
		rec.StartTime, rec.EndTime, rec.Latency, rec.Throughput,
		rec.PromptTokens, rec.OutputTokens, rec.TotalTokens,
		rec.Input, rec.Output, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting record %d: %w", rec.RequestID, err)
	}
	return nil
}

// DB exposes the underlying handle for queries.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close releases the statement and database.
func (s *SQLite) Close() error {
	_ = s.insert.Close()
	return s.db.Close()
}
