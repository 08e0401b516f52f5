package guest

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/reglet-dev/wasmudf/infrastructure/arrowipc"
)

// NewSum returns the reference UDF: it adds every uint32 value of the input
// with wraparound and returns a one-row batch with a single "sum" column.
// A nil codec uses the default allocator.
func NewSum(codec *arrowipc.Codec) Func {
	if codec == nil {
		codec = arrowipc.NewCodec()
	}
	return func(records []arrow.Record) (arrow.Record, error) {
		sum, err := arrowipc.SumUint32(records)
		if err != nil {
			return nil, err
		}
		return codec.NewUint32Record(arrowipc.SumSchema, []uint32{sum})
	}
}

// SumScalar is the scalar form of the reference UDF.
func SumScalar(records []arrow.Record) (uint32, error) {
	return arrowipc.SumUint32(records)
}
