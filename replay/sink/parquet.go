package sink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/inference-sim/replay-client/replay"
)

const defaultParquetBatch = 256

// parquetRecord is the columnar form of replay.RequestRecord. Nullable
// fields are OPTIONAL columns.
type parquetRecord struct {
	RequestID    int64    `parquet:"name=request_id, type=INT64"`
	Bucket       int64    `parquet:"name=bucket, type=INT64"`
	StatusCode   *int32   `parquet:"name=status_code, type=INT32, repetitiontype=OPTIONAL"`
	StartTime    float64  `parquet:"name=start_time, type=DOUBLE"`
	EndTime      *float64 `parquet:"name=end_time, type=DOUBLE, repetitiontype=OPTIONAL"`
	Latency      *float64 `parquet:"name=latency, type=DOUBLE, repetitiontype=OPTIONAL"`
	Throughput   *float64 `parquet:"name=throughput, type=DOUBLE, repetitiontype=OPTIONAL"`
	PromptTokens *int64   `parquet:"name=prompt_tokens, type=INT64, repetitiontype=OPTIONAL"`
	OutputTokens *int64   `parquet:"name=output_tokens, type=INT64, repetitiontype=OPTIONAL"`
	TotalTokens  *int64   `parquet:"name=total_tokens, type=INT64, repetitiontype=OPTIONAL"`
	Input        string   `parquet:"name=input, type=BYTE_ARRAY, convertedtype=UTF8"`
	Output       *string  `parquet:"name=output, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Error        *string  `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

func toParquetRecord(rec replay.RequestRecord) parquetRecord {
	pr := parquetRecord{
		RequestID:  int64(rec.RequestID),
		Bucket:     rec.Bucket,
		StartTime:  rec.StartTime,
		EndTime:    rec.EndTime,
		Latency:    rec.Latency,
		Throughput: rec.Throughput,
		Input:      rec.Input,
		Output:     rec.Output,
		Error:      rec.Error,
	}
	if rec.StatusCode != nil {
		sc := int32(*rec.StatusCode)
		pr.StatusCode = &sc
	}
	pr.PromptTokens = widen(rec.PromptTokens)
	pr.OutputTokens = widen(rec.OutputTokens)
	pr.TotalTokens = widen(rec.TotalTokens)
	return pr
}

func widen(v *int) *int64 {
	if v == nil {
		return nil
	}
	w := int64(*v)
	return &w
}

// rowWriter is the part of *writer.ParquetWriter the sink drives.
type rowWriter interface {
	Write(src interface{}) error
	WriteStop() error
}

// Parquet batches records and writes them as Parquet row groups.
//
// Durability: up to batchSize records are held in memory between writes,
// and the file footer is only written by Close, so a file from a run that
// died without Close is unreadable.
type Parquet struct {
	mu        sync.Mutex
	file      source.ParquetFile
	pw        rowWriter
	batchSize int
	pending   []parquetRecord
	closed    bool
}

// CreateParquet creates a Parquet result file at path.
func CreateParquet(path string, batchSize int) (*Parquet, error) {
	if batchSize <= 0 {
		batchSize = defaultParquetBatch
	}
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("creating parquet file: %w", err)
	}
	pw, err := writer.NewParquetWriter(file, new(parquetRecord), 4)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &Parquet{
		file:      file,
		pw:        pw,
		batchSize: batchSize,
		pending:   make([]parquetRecord, 0, batchSize),
	}, nil
}

// Append queues rec and writes the batch once it is full.
func (p *Parquet) Append(rec replay.RequestRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("parquet sink closed")
	}
	p.pending = append(p.pending, toParquetRecord(rec))
	if len(p.pending) >= p.batchSize {
		return p.flush()
	}
	return nil
}

// flush writes pending rows. On failure the rows already written are
// dropped from pending so a later flush never writes them twice.
func (p *Parquet) flush() error {
	for i, r := range p.pending {
		if err := p.pw.Write(r); err != nil {
			p.pending = p.pending[i:]
			return fmt.Errorf("writing parquet row %d: %w", r.RequestID, err)
		}
	}
	p.pending = p.pending[:0]
	return nil
}

// Close writes pending rows and the file footer.
func (p *Parquet) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.flush(); err != nil {
		_ = p.file.Close()
		return err
	}
	if err := p.pw.WriteStop(); err != nil {
		_ = p.file.Close()
		return fmt.Errorf("finishing parquet file: %w", err)
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("closing parquet file: %w", err)
	}
	return nil
}
