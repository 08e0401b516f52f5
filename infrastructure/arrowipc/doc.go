// Package arrowipc implements the columnar codec used at the sandbox
// boundary: Apache Arrow IPC file framing (magic, schema, record batches,
// footer) in one contiguous, self-describing buffer.
//
// It also carries the reference scenario used by the CLI and the example
// guest: an operands batch of two non-nullable uint32 columns "v1" and "v2",
// and a result batch of one non-nullable uint32 column "sum".
package arrowipc
