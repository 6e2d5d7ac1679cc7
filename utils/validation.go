package utils

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is the singleton validator instance
	validate *validator.Validate

	// identifierRegex matches engagement and project ids
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRegex.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation errors with structured details
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError from validator.ValidationErrors
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string)
	for _, err := range errs {
		field := err.Namespace()
		tag := err.Tag()

		switch tag {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", err.Field())
		case "required_without":
			fields[field] = fmt.Sprintf("%s is required when %s is absent", err.Field(), err.Param())
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
		case "lte":
			fields[field] = fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "identifier":
			fields[field] = fmt.Sprintf("%s must match %s", err.Field(), identifierRegex.String())
		case "regexp":
			fields[field] = fmt.Sprintf("%s must be a valid regular expression", err.Field())
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", err.Field(), tag)
		}
	}

	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields extracts field errors from a ValidationError
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}

// ValidateIdentifier validates an engagement or project id
func ValidateIdentifier(s string, fieldName string) error {
	if !identifierRegex.MatchString(s) {
		return fmt.Errorf("%s must match %s", fieldName, identifierRegex.String())
	}
	return nil
}
