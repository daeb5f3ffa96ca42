package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report failures by environment variable, which is what operators edit.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if env := f.Tag.Get("env"); env != "" {
			return env
		}
		return f.Name
	})
	return v
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%d invalid setting(s):\n  %s", len(problems), strings.Join(problems, "\n  "))
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + ": is required"
	case "required_if":
		return fmt.Sprintf("%s: is required when %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", name, fe.Param(), fe.Value())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s: must be at least %s characters", name, fe.Param())
		}
		return fmt.Sprintf("%s: must be at least %s", name, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s: must be at most %s", name, fe.Param())
	case "gt":
		return fmt.Sprintf("%s: must be greater than %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s: must be at least %s", name, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s: must not be less than %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %q check", name, fe.Tag())
	}
}
