package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage reports the first failing field the way the API words
// errors elsewhere, e.g. "content is required".
func validationMessage(err error) string {
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return "Invalid request body"
	}

	failure := failures[0]
	switch failure.Tag() {
	case "required":
		return failure.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", failure.Field(), failure.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", failure.Field(), strings.ReplaceAll(failure.Param(), " ", ", "))
	default:
		return failure.Field() + " is invalid"
	}
}
