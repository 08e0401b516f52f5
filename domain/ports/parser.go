package ports

import "github.com/reglet-dev/wasmudf/domain/entities"

// ConfigParser parses raw configuration bytes into a RunConfig.
type ConfigParser interface {
	// Parse unmarshals bytes over base, so unset keys keep base's values.
	Parse(data []byte, base entities.RunConfig) (entities.RunConfig, error)
}
