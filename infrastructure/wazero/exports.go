package wazero

import (
	"fmt"
	"maps"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
)

// Guest export names. The first four are required; the rest are optional.
const (
	ExportMemory     = "memory"
	ExportMalloc     = "malloc"
	ExportFree       = "free"
	ExportUDF        = "udf"
	ExportConvention = "udf_convention"
	ExportLastError  = "udf_error"
	ExportInitialize = "_initialize"
)

var i32 = api.ValueTypeI32

// signature is the expected type of a guest export.
type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

func (s signature) String() string {
	return fmt.Sprintf("(%s) -> (%s)", typeNames(s.params), typeNames(s.results))
}

// requiredExports is the operation table every guest must satisfy.
var requiredExports = map[string]signature{
	ExportMalloc: {params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},
	ExportFree:   {params: []api.ValueType{i32, i32, i32}},
	ExportUDF:    {params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},
}

// optionalExports are checked only when present.
var optionalExports = map[string]signature{
	ExportConvention: {results: []api.ValueType{i32}},
	ExportLastError:  {results: []api.ValueType{i32}},
	ExportInitialize: {},
}

// verifyExports checks a compiled module against the export table before
// anything is instantiated.
func verifyExports(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return &domainerrors.LoadError{Export: ExportMemory, Err: fmt.Errorf("linear memory not exported")}
	}

	defs := compiled.ExportedFunctions()
	for _, name := range sortedKeys(requiredExports) {
		def, ok := defs[name]
		if !ok {
			return &domainerrors.LoadError{Export: name, Err: fmt.Errorf("function not exported")}
		}
		if err := checkSignature(def, requiredExports[name]); err != nil {
			return &domainerrors.LoadError{Export: name, Err: err}
		}
	}
	for _, name := range sortedKeys(optionalExports) {
		def, ok := defs[name]
		if !ok {
			continue
		}
		if err := checkSignature(def, optionalExports[name]); err != nil {
			return &domainerrors.LoadError{Export: name, Err: err}
		}
	}
	return nil
}

func checkSignature(def api.FunctionDefinition, want signature) error {
	got := signature{params: def.ParamTypes(), results: def.ResultTypes()}
	if !slices.Equal(got.params, want.params) || !slices.Equal(got.results, want.results) {
		return fmt.Errorf("signature %s, want %s", got, want)
	}
	return nil
}

func typeNames(types []api.ValueType) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s
}

func sortedKeys(m map[string]signature) []string {
	return slices.Sorted(maps.Keys(m))
}
