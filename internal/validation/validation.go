// Package validation wraps go-playground/validator with JSON field names and
// a field-keyed error type.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Error maps JSON field paths to human readable problems.
type Error struct {
	Fields map[string][]string `json:"fields"`
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem for field.
func (e *Error) Add(field, problem string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], problem)
}

// OrNil returns e when it holds at least one problem.
func (e *Error) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Validator checks struct tags.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", notBlank)
	return &Validator{v: v}
}

// Struct validates s and returns *Error for tag failures.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	if ve := FromValidator(err); ve != nil {
		return ve
	}
	return fmt.Errorf("validate: %w", err)
}

// FromValidator converts validator.ValidationErrors; other errors yield nil.
func FromValidator(err error) *Error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := &Error{}
	for _, fe := range ve {
		out.Add(fieldPath(fe.Namespace()), problem(fe))
	}
	return out
}

// fieldPath drops the root struct name from a namespace like Product.materials[0].name.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func problem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "This field is required"
	case "min":
		return "Value is too short, min: " + fe.Param()
	case "max":
		return "Value is too long, max: " + fe.Param()
	case "gte":
		return "Value must be at least " + fe.Param()
	case "lte":
		return "Value must be at most " + fe.Param()
	case "email":
		return "Value must be a valid email address"
	case "oneof":
		return "Value must be one of: " + fe.Param()
	default:
		return "Invalid value provided"
	}
}

func notBlank(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) >= 0
}
