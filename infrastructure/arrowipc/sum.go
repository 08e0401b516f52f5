package arrowipc

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
)

// SumUint32 adds every value of every column of every record using
// unsigned 32-bit wraparound arithmetic: 4294967295 + 1 is 0. Zero rows or
// zero columns sum to 0. A column of any other type is a decode error.
func SumUint32(records []arrow.Record) (uint32, error) {
	var sum uint32
	for _, rec := range records {
		for i, col := range rec.Columns() {
			values, ok := col.(*array.Uint32)
			if !ok {
				return 0, &domainerrors.DecodeError{
					Reason: fmt.Sprintf("column %q has type %s, want uint32", rec.ColumnName(i), col.DataType()),
				}
			}
			for j := 0; j < values.Len(); j++ {
				if values.IsNull(j) {
					continue
				}
				sum += values.Value(j)
			}
		}
	}
	return sum, nil
}

// RequireColumns checks that schema has a non-nullable uint32 field for each
// name.
func RequireColumns(schema *arrow.Schema, names ...string) error {
	for _, name := range names {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return &domainerrors.DecodeError{Reason: fmt.Sprintf("missing column %q", name)}
		}
		f := schema.Field(idx[0])
		if f.Type.ID() != arrow.UINT32 {
			return &domainerrors.DecodeError{Reason: fmt.Sprintf("column %q has type %s, want uint32", name, f.Type)}
		}
		if f.Nullable {
			return &domainerrors.DecodeError{Reason: fmt.Sprintf("column %q must not be nullable", name)}
		}
	}
	return nil
}
