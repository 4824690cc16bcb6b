package sink

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/inference-sim/replay-client/replay"
)

// Publisher is the subset of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS streams every record as JSON to a subject for live dashboards.
// Publishing is fire-and-forget at the NATS level; nothing is persisted here.
type NATS struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// DialNATS connects to url and publishes to "<subject>.<runID>".
func DialNATS(url, subject string, runID replay.RunID) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("replay-client"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	s := NewNATS(nc, subject, runID)
	s.conn = nc
	return s, nil
}

// NewNATS publishes through pub.
func NewNATS(pub Publisher, subject string, runID replay.RunID) *NATS {
	return &NATS{pub: pub, subject: fmt.Sprintf("%s.%s", subject, runID)}
}

// Subject returns the subject records are published to.
func (n *NATS) Subject() string { return n.subject }

// Append publishes rec.
func (n *NATS) Append(rec replay.RequestRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding record %d: %w", rec.RequestID, err)
	}
	if err := n.pub.Publish(n.subject, bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		return fmt.Errorf("publishing record %d: %w", rec.RequestID, err)
	}
	return nil
}

// Close flushes and closes the connection it dialed, if any.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Flush()
	n.conn.Close()
	return err
}
