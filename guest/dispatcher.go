package guest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/infrastructure/arrowipc"
)

// Func is a batch UDF. It receives every record batch of the input and
// returns one output batch, which the dispatcher releases after encoding.
type Func func(records []arrow.Record) (arrow.Record, error)

// ScalarFunc is a UDF whose result is a single unsigned 32-bit value.
type ScalarFunc func(records []arrow.Record) (uint32, error)

// Outcome is what one dispatch produced: Scalar for scalar UDFs, the
// encoded output batch otherwise.
type Outcome struct {
	Output []byte
	Scalar uint32
}

// Dispatcher decodes UDF input, runs the registered function and encodes
// its result. It holds no linear-memory state and runs on the host as well
// as inside a guest.
type Dispatcher struct {
	Codec  *arrowipc.Codec
	Func   Func
	Scalar ScalarFunc

	// RequiredColumns are uint32 columns the input schema must carry.
	RequiredColumns []string
}

// Convention returns the calling convention the dispatcher answers with.
func (d *Dispatcher) Convention() entities.Convention {
	if d.Scalar != nil {
		return entities.ConventionScalar
	}
	return entities.ConventionDescriptor
}

// Handle runs one invocation on an encoded input batch.
func (d *Dispatcher) Handle(input []byte) (Outcome, error) {
	if d.Func == nil && d.Scalar == nil {
		return Outcome{}, errors.New("guest: no udf registered")
	}
	codec := d.codec()

	records, err := codec.Decode(input)
	if err != nil {
		return Outcome{}, err
	}
	defer arrowipc.ReleaseAll(records)

	if len(d.RequiredColumns) > 0 {
		schema, err := inputSchema(codec, records, input)
		if err != nil {
			return Outcome{}, err
		}
		if err := arrowipc.RequireColumns(schema, d.RequiredColumns...); err != nil {
			return Outcome{}, err
		}
	}

	if d.Scalar != nil {
		v, err := d.Scalar(records)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Scalar: v}, nil
	}

	out, err := d.Func(records)
	if err != nil {
		return Outcome{}, err
	}
	if out == nil {
		return Outcome{}, errors.New("guest: udf returned no batch")
	}
	defer out.Release()

	data, err := codec.Encode(out)
	if err != nil {
		return Outcome{}, fmt.Errorf("guest: encode output: %w", err)
	}
	return Outcome{Output: data}, nil
}

func (d *Dispatcher) codec() *arrowipc.Codec {
	if d.Codec == nil {
		d.Codec = arrowipc.NewCodec()
	}
	return d.Codec
}

func inputSchema(codec *arrowipc.Codec, records []arrow.Record, input []byte) (*arrow.Schema, error) {
	if len(records) > 0 {
		return records[0].Schema(), nil
	}
	return codec.Schema(input)
}

// ErrorMessage encodes err for the udf_error channel. Decode failures are
// tagged so the host can classify them.
func ErrorMessage(err error) []byte {
	kind := "udf"
	if domainerrors.KindOf(err) == domainerrors.KindDecode {
		kind = string(domainerrors.KindDecode)
	}
	msg, mErr := json.Marshal(entities.GuestErrorMessage{Kind: kind, Message: err.Error()})
	if mErr != nil {
		return []byte(err.Error())
	}
	return msg
}
