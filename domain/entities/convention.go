package entities

import "fmt"

// Convention is the agreed interpretation of a UDF's raw i32 return value.
// The numeric values are the tags a guest returns from udf_convention.
type Convention int32

const (
	// ConventionScalar means the return value is the result itself.
	ConventionScalar Convention = 0

	// ConventionDescriptor means the return value is the guest address of a
	// ResultDescriptor naming an encoded output batch. A return value of 0
	// is reserved as the failure sentinel.
	ConventionDescriptor Convention = 1

	// ConventionAuto defers to the guest's udf_convention export and falls
	// back to ConventionDescriptor. It is never a wire value.
	ConventionAuto Convention = -1
)

func (c Convention) String() string {
	switch c {
	case ConventionScalar:
		return "scalar"
	case ConventionDescriptor:
		return "descriptor"
	case ConventionAuto:
		return "auto"
	default:
		return fmt.Sprintf("convention(%d)", int32(c))
	}
}

// Valid reports whether c is a wire convention tag.
func (c Convention) Valid() bool {
	return c == ConventionScalar || c == ConventionDescriptor
}

// ParseConvention converts a configuration string into a Convention.
// The empty string means auto.
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "", "auto":
		return ConventionAuto, nil
	case "scalar":
		return ConventionScalar, nil
	case "descriptor":
		return ConventionDescriptor, nil
	default:
		return ConventionAuto, fmt.Errorf("unknown calling convention %q", s)
	}
}
