package entities

import "time"

// UDFResult is the outcome of one UDF invocation. Convention is the
// discriminant: a scalar result carries Scalar, a descriptor result carries
// Output, a host-owned copy of the encoded output batch.
type UDFResult struct {
	// Output is the encoded output batch. Nil for scalar results.
	Output []byte `json:"output,omitempty"`

	// Duration covers acquire through release.
	Duration time.Duration `json:"duration"`

	// Scalar is the raw return value reinterpreted as unsigned.
	Scalar uint32 `json:"scalar,omitempty"`

	// Convention selects which of Scalar or Output is meaningful.
	Convention Convention `json:"convention"`
}

// ScalarResult creates a scalar-convention result.
func ScalarResult(v uint32) UDFResult {
	return UDFResult{Convention: ConventionScalar, Scalar: v}
}

// DescriptorResult creates a descriptor-convention result.
func DescriptorResult(output []byte) UDFResult {
	return UDFResult{Convention: ConventionDescriptor, Output: output}
}

// IsScalar reports whether the result carries a scalar value.
func (r UDFResult) IsScalar() bool {
	return r.Convention == ConventionScalar
}
