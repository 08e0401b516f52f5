package arrowipc

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
)

// Column names of the reference scenario.
const (
	ColumnV1  = "v1"
	ColumnV2  = "v2"
	ColumnSum = "sum"
)

// OperandsSchema is the input batch schema: two non-nullable uint32 columns.
var OperandsSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnV1, Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
	{Name: ColumnV2, Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
}, nil)

// SumSchema is the output batch schema: one non-nullable uint32 column.
var SumSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnSum, Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
}, nil)

// NewUint32Record builds a record with one uint32 column per entry of
// columns, all of which must have the same length.
func (c *Codec) NewUint32Record(schema *arrow.Schema, columns ...[]uint32) (arrow.Record, error) {
	if len(columns) != schema.NumFields() {
		return nil, fmt.Errorf("arrowipc: %d columns for %d fields", len(columns), schema.NumFields())
	}

	rows := 0
	if len(columns) > 0 {
		rows = len(columns[0])
	}

	arrays := make([]arrow.Array, 0, len(columns))
	defer func() {
		for _, arr := range arrays {
			arr.Release()
		}
	}()
	for i, values := range columns {
		if len(values) != rows {
			return nil, fmt.Errorf("arrowipc: column %q has %d rows, want %d", schema.Field(i).Name, len(values), rows)
		}
		b := array.NewUint32Builder(c.mem)
		b.AppendValues(values, nil)
		arrays = append(arrays, b.NewArray())
		b.Release()
	}
	return array.NewRecord(schema, arrays, int64(rows)), nil
}

// EncodeOperands builds and encodes the one-row {v1, v2} input batch.
func (c *Codec) EncodeOperands(v1, v2 uint32) ([]byte, error) {
	rec, err := c.NewUint32Record(OperandsSchema, []uint32{v1}, []uint32{v2})
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	return c.Encode(rec)
}

// EncodeSum builds and encodes the one-row {sum} output batch.
func (c *Codec) EncodeSum(v uint32) ([]byte, error) {
	rec, err := c.NewUint32Record(SumSchema, []uint32{v})
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	return c.Encode(rec)
}

// DecodeSum decodes an output batch and returns its single value. The
// buffer must carry exactly SumSchema and exactly one row in total.
func (c *Codec) DecodeSum(data []byte) (uint32, error) {
	records, err := c.Decode(data)
	if err != nil {
		return 0, err
	}
	defer ReleaseAll(records)

	if len(records) == 0 {
		return 0, &domainerrors.DecodeError{Reason: "output has no record batches"}
	}

	var (
		value uint32
		rows  int64
	)
	for _, rec := range records {
		if !rec.Schema().Equal(SumSchema) {
			return 0, &domainerrors.DecodeError{Reason: fmt.Sprintf("unexpected output schema %s", rec.Schema())}
		}
		if rec.NumRows() == 0 {
			continue
		}
		col, ok := rec.Column(0).(*array.Uint32)
		if !ok {
			return 0, &domainerrors.DecodeError{Reason: fmt.Sprintf("column %q is %T", ColumnSum, rec.Column(0))}
		}
		if col.IsNull(0) {
			return 0, &domainerrors.DecodeError{Reason: "null value in non-nullable column " + ColumnSum}
		}
		value = col.Value(0)
		rows += rec.NumRows()
	}
	if rows != 1 {
		return 0, &domainerrors.DecodeError{Reason: fmt.Sprintf("output has %d rows, want 1", rows)}
	}
	return value, nil
}
