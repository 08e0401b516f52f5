package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema_NestedStruct(t *testing.T) {
	type Limits struct {
		Pages   uint32 `json:"pages"`
		Timeout int    `json:"timeout"`
	}
	type Config struct {
		Module string `json:"module"`
		Limits Limits `json:"limits"`
	}

	schema, err := GenerateSchema(Config{})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(schema, &decoded))

	properties, ok := decoded["properties"].(map[string]interface{})
	require.True(t, ok, "properties should be a map")
	assert.Contains(t, properties, "module")
	assert.Contains(t, properties, "limits")
	assert.Contains(t, string(schema), "pages")
}

func TestRunConfigSchema(t *testing.T) {
	schema, err := RunConfigSchema()
	require.NoError(t, err)

	var decoded struct {
		Title                string                            `json:"title"`
		Required             []string                          `json:"required"`
		AdditionalProperties *bool                             `json:"additionalProperties"`
		Properties           map[string]map[string]interface{} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(schema, &decoded))

	assert.Equal(t, "udfrun run configuration", decoded.Title)
	assert.Equal(t, []string{"module"}, decoded.Required)
	require.NotNil(t, decoded.AdditionalProperties)
	assert.False(t, *decoded.AdditionalProperties)

	for _, key := range []string{
		"module", "convention", "log_level", "operands", "call_timeout",
		"iterations", "parallelism", "memory_limit_pages",
	} {
		assert.Contains(t, decoded.Properties, key)
	}

	operands := decoded.Properties["operands"]
	assert.Equal(t, "array", operands["type"])
	assert.EqualValues(t, 2, operands["minItems"])
	assert.EqualValues(t, 2, operands["maxItems"])

	assert.Equal(t, "string", decoded.Properties["call_timeout"]["type"])
	assert.ElementsMatch(t, []interface{}{"auto", "scalar", "descriptor"}, decoded.Properties["convention"]["enum"])
}
