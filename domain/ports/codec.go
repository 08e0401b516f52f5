package ports

import "github.com/apache/arrow-go/v18/arrow"

// BatchCodec turns record batches into the self-describing byte buffer that
// crosses the sandbox boundary, and back. The schema travels inside the
// bytes.
type BatchCodec interface {
	// Encode serializes the records, which must share one schema.
	Encode(records ...arrow.Record) ([]byte, error)

	// Decode parses a buffer produced by Encode. The caller must Release the
	// returned records.
	Decode(data []byte) ([]arrow.Record, error)
}
