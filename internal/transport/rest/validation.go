package rest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("handle_format", validateHandleFormat)
}

// validateHandleFormat accepts the characters the supported platforms allow
// in profile handles: letters, numbers, underscore, dot, hyphen.
func validateHandleFormat(fl validator.FieldLevel) bool {
	handle := strings.TrimPrefix(fl.Field().String(), "@")
	if handle == "" {
		return false
	}
	for _, char := range handle {
		if !unicode.IsLetter(char) && !unicode.IsNumber(char) &&
			char != '_' && char != '.' && char != '-' {
			return false
		}
	}
	return true
}

// validateRequest validates a request DTO and returns field-level messages.
func validateRequest(req interface{}) map[string]string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	meta := map[string]string{}
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			meta[strings.ToLower(fieldError.Field())] = formatFieldError(fieldError)
		}
		return meta
	}
	meta["request"] = err.Error()
	return meta
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "handle_format":
		return "can only contain letters, numbers, underscore, dot, and hyphen"
	default:
		return "is invalid"
	}
}
