package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/wasmudf/domain/entities"
)

func TestYamlConfigParser_Parse(t *testing.T) {
	base := entities.DefaultRunConfig()

	tests := []struct {
		name    string
		input   string
		want    func(c *entities.RunConfig)
		wantErr string
	}{
		{
			name:  "empty document keeps defaults",
			input: "",
			want:  func(*entities.RunConfig) {},
		},
		{
			name: "full document",
			input: `
module: adder.wasm
convention: scalar
log_level: debug
operands: [4294967295, 1]
call_timeout: 250ms
iterations: 10
parallelism: 4
memory_limit_pages: 32
`,
			want: func(c *entities.RunConfig) {
				c.Module = "adder.wasm"
				c.Convention = "scalar"
				c.LogLevel = "debug"
				c.Operands = [2]uint32{4294967295, 1}
				c.CallTimeout = 250 * time.Millisecond
				c.Iterations = 10
				c.Parallelism = 4
				c.MemoryLimitPages = 32
			},
		},
		{
			name:  "partial document overrides only named keys",
			input: "iterations: 3\n",
			want:  func(c *entities.RunConfig) { c.Iterations = 3 },
		},
		{
			name:    "unknown key",
			input:   "iteratons: 3\n",
			wantErr: "iteratons",
		},
		{
			name:    "wrong type",
			input:   "parallelism: many\n",
			wantErr: "parse run configuration",
		},
		{
			name:    "negative operand",
			input:   "operands: [-1, 2]\n",
			wantErr: "parse run configuration",
		},
	}

	p := NewYamlConfigParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse([]byte(tt.input), base)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			want := base
			tt.want(&want)
			assert.Equal(t, want, got)
		})
	}
}
