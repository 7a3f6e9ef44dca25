package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks request and config structs. Field names in messages are
// the JSON names clients send.
type Validator struct {
	validate *validator.Validate
}

// checkable is implemented by closed string enums such as trigger types
type checkable interface {
	Valid() bool
}

var phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]{6,24}$`)

// New creates a validator with the lead-domain tags registered:
//
//	trigger_type  value's Valid() method reports true
//	phone         digits with optional leading +, spaces, dashes and parentheses
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})

	// both registrations are static and cannot fail
	_ = v.RegisterValidation("trigger_type", func(fl validator.FieldLevel) bool {
		c, ok := fl.Field().Interface().(checkable)
		return ok && c.Valid()
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: v}
}

// Validate validates a struct
func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Field()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "phone":
		return fmt.Sprintf("%s must be a phone number", field)
	case "trigger_type":
		return fmt.Sprintf("%s %q is not a known trigger type", field, e.Value())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, e.Tag())
	}
}

var defaultValidator = New()

// Validate validates a struct with the shared validator
func Validate(i interface{}) error {
	return defaultValidator.Validate(i)
}
