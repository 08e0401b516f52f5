// Package schema provides JSON schema generation for the run configuration.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/reglet-dev/wasmudf/domain/entities"
)

// GenerateSchema creates a JSON schema from a Go struct.
// It uses the `invopop/jsonschema` library to reflect on the struct
// and generate a standard JSON Schema (Draft 2020-12).
func GenerateSchema(v interface{}) ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true, // Expand struct definitions inline
	}
	return marshal(reflector.Reflect(v))
}

// RunConfigSchema returns the schema of the udfrun YAML configuration. Only
// fields tagged required are required; unknown keys are rejected, matching
// the parser.
func RunConfigSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := reflector.Reflect(&entities.RunConfig{})
	s.Title = "udfrun run configuration"
	return marshal(s)
}

func marshal(s *jsonschema.Schema) ([]byte, error) {
	jsonBytes, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return jsonBytes, nil
}
