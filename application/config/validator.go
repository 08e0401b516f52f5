package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/domain/ports"
)

// validate is a package-level singleton; building a validator caches struct
// metadata, so it is created once.
var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report yaml key names rather than Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
}

// StructValidator implements ConfigValidator with go-playground/validator.
type StructValidator struct{}

// NewValidator creates a ConfigValidator.
func NewValidator() ports.ConfigValidator {
	return StructValidator{}
}

// Validate checks the struct tags of cfg and returns a *errors.ConfigError
// naming the first offending field.
func (StructValidator) Validate(cfg entities.RunConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domainerrors.ConfigError{
			Field: fe.Field(),
			Err:   fmt.Errorf("value %v fails %q", fe.Value(), describe(fe)),
		}
	}
	return &domainerrors.ConfigError{Err: err}
}

func describe(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
