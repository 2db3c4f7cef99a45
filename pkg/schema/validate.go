package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationKind string

const (
	KindRequired    ValidationKind = "required"
	KindRange       ValidationKind = "range"
	KindUnsupported ValidationKind = "unsupported"
	KindTooLong     ValidationKind = "too_long"
)

// ValidationError reports the first constraint a value violates. Field is the
// JSON path of the offending field, e.g. "characters[1].type".
type ValidationError struct {
	Kind  ValidationKind
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Kind)
}

var validate = newValidator()

// Validator exposes the shared validator so HTTP binding uses the same rules.
func Validator() *validator.Validate {
	return validate
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct checks v against its validate tags and reports the first
// violation as a *ValidationError.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	return fromFieldError(errs[0])
}

func fromFieldError(fe validator.FieldError) *ValidationError {
	field := fe.Namespace()
	// drop the struct name prefix, "Prompt.characters[0].name" -> "characters[0].name"
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	kind := KindUnsupported
	switch fe.Tag() {
	case "required":
		kind = KindRequired
	case "max", "lte":
		kind = KindRange
		if fe.Kind() == reflect.String {
			kind = KindTooLong
		}
	case "min", "gte":
		kind = KindRange
	}
	return &ValidationError{Kind: kind, Field: field}
}
