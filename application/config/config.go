// Package config loads and validates the run configuration of the udfrun
// host.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/domain/ports"
	"github.com/reglet-dev/wasmudf/infrastructure/parser"
)

// Loader builds a RunConfig from defaults, an optional YAML file and
// explicit overrides, in that order.
type Loader struct {
	parser    ports.ConfigParser
	validator ports.ConfigValidator
}

// NewLoader creates a Loader using the YAML parser and the struct-tag
// validator.
func NewLoader() *Loader {
	return &Loader{
		parser:    parser.NewYamlConfigParser(),
		validator: NewValidator(),
	}
}

// Load reads path (skipped when empty), applies overrides and validates the
// result. Every failure is a *errors.ConfigError.
func (l *Loader) Load(path string, overrides ...entities.RunConfigOption) (entities.RunConfig, error) {
	cfg := entities.DefaultRunConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return entities.RunConfig{}, &domainerrors.ConfigError{Field: "config", Err: err}
		}
		cfg, err = l.parser.Parse(data, cfg)
		if err != nil {
			return entities.RunConfig{}, &domainerrors.ConfigError{Field: "config", Err: fmt.Errorf("%s: %w", path, err)}
		}
	}

	for _, opt := range overrides {
		opt(&cfg)
	}

	if err := l.validator.Validate(cfg); err != nil {
		return entities.RunConfig{}, err
	}
	return cfg, nil
}

// Convention returns the parsed calling convention of cfg.
func Convention(cfg entities.RunConfig) (entities.Convention, error) {
	conv, err := entities.ParseConvention(cfg.Convention)
	if err != nil {
		return 0, &domainerrors.ConfigError{Field: "convention", Err: err}
	}
	return conv, nil
}

// LogLevel returns the slog level named by cfg. An empty level is info.
func LogLevel(cfg entities.RunConfig) (slog.Level, error) {
	var level slog.Level
	if cfg.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return 0, &domainerrors.ConfigError{Field: "log_level", Err: err}
	}
	return level, nil
}
