package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dpm-admin/dpm-api/internal/shared"
)

// Validator runs struct-tag validation and reports the first failing field
// by its JSON name.
type Validator struct {
	validate *validator.Validate
	messages map[string]string
}

// NewValidator builds a Validator that names fields after their json tags.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return &Validator{validate: v, messages: make(map[string]string)}
}

// Register adds a custom tag with the message shown when it fails.
func (v *Validator) Register(tag, message string, fn validator.Func) error {
	if err := v.validate.RegisterValidation(tag, fn); err != nil {
		return err
	}
	v.messages[tag] = message
	return nil
}

// Struct validates s and returns a *shared.ValidationError for the first failure.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("httpx: validate: %w", err)
	}
	fe := fieldErrs[0]
	return &shared.ValidationError{Field: fe.Field(), Message: v.message(fe)}
}

func (v *Validator) message(fe validator.FieldError) string {
	if msg, ok := v.messages[fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s cannot exceed %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is not valid"
	}
}
