package ports

import "github.com/reglet-dev/wasmudf/domain/entities"

// ConfigValidator validates a run configuration before it is used.
type ConfigValidator interface {
	// Validate returns a *errors.ConfigError naming the first invalid field.
	Validate(cfg entities.RunConfig) error
}
