package arrowipc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/domain/ports"
)

// ErrNoRecords is returned by Encode when it is given nothing to write.
var ErrNoRecords = errors.New("arrowipc: no records to encode")

// Codec encodes and decodes record batches with Arrow IPC file framing.
type Codec struct {
	mem memory.Allocator
}

var _ ports.BatchCodec = (*Codec)(nil)

// Option configures a Codec.
type Option func(*Codec)

// WithAllocator sets the allocator used for decoded buffers.
func WithAllocator(mem memory.Allocator) Option {
	return func(c *Codec) {
		if mem != nil {
			c.mem = mem
		}
	}
}

// NewCodec creates a Codec. The Go allocator is used by default.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{mem: memory.NewGoAllocator()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode writes records into a single IPC file buffer. All records must
// share the schema of the first one.
func (c *Codec) Encode(records ...arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	schema := records[0].Schema()

	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("arrowipc: create writer: %w", err)
	}
	for i, rec := range records {
		if !rec.Schema().Equal(schema) {
			_ = w.Close()
			return nil, fmt.Errorf("arrowipc: record %d schema %s differs from %s", i, rec.Schema(), schema)
		}
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("arrowipc: write record %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("arrowipc: finish file: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an IPC file buffer. Any parse failure is a
// *errors.DecodeError. The caller owns the returned records.
func (c *Codec) Decode(data []byte) ([]arrow.Record, error) {
	if len(data) == 0 {
		return nil, &domainerrors.DecodeError{Reason: "empty buffer"}
	}

	r, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, &domainerrors.DecodeError{Reason: "arrow ipc file", Err: err}
	}
	defer r.Close()

	records := make([]arrow.Record, 0, r.NumRecords())
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.RecordAt(i)
		if err != nil {
			ReleaseAll(records)
			return nil, &domainerrors.DecodeError{Reason: fmt.Sprintf("record %d", i), Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

// Schema decodes only the schema carried by an IPC file buffer.
func (c *Codec) Schema(data []byte) (*arrow.Schema, error) {
	r, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, &domainerrors.DecodeError{Reason: "arrow ipc file", Err: err}
	}
	defer r.Close()
	return r.Schema(), nil
}

// ReleaseAll releases every record in records.
func ReleaseAll(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}
