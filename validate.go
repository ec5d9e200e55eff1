package authcore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate caches struct metadata and is safe for concurrent use.
var validate = validator.New()

// validateStruct runs the `validate` tags of v and converts failures into
// ErrValidationFailed naming every offending field.
func validateStruct(kind string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ErrValidationFailed.WithCause(err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), describeTag(fe)))
	}
	return ErrValidationFailed.WithMessagef("%s: invalid fields: %s", kind, strings.Join(fields, ", "))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "at least " + fe.Param()
	case "oneof":
		return "one of " + fe.Param()
	default:
		return fe.Tag()
	}
}
