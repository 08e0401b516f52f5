// Package parser reads run configurations.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/wasmudf/domain/entities"
	"github.com/reglet-dev/wasmudf/domain/ports"
)

// YamlConfigParser implements ConfigParser for YAML.
type YamlConfigParser struct{}

// NewYamlConfigParser creates a new YamlConfigParser.
func NewYamlConfigParser() ports.ConfigParser {
	return &YamlConfigParser{}
}

// Parse unmarshals YAML bytes over base. Unknown keys are rejected so a
// misspelled setting does not silently fall back to its default. An empty
// document returns base unchanged.
func (p *YamlConfigParser) Parse(data []byte, base entities.RunConfig) (entities.RunConfig, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return base, nil
		}
		return entities.RunConfig{}, fmt.Errorf("parse run configuration: %w", err)
	}
	return cfg, nil
}
