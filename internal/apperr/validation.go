package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one failed input field.
type FieldError struct {
	Field string `json:"field" example:"email"`
	Error string `json:"error" example:"must be a valid email"`
}

// ValidationPayload is the field-level list returned with validation-failed.
type ValidationPayload []FieldError

// Fields returns the names of the failed fields in payload order.
func (p ValidationPayload) Fields() []string {
	out := make([]string, 0, len(p))
	for _, fe := range p {
		out = append(out, fe.Field)
	}
	return out
}

// FromBinding converts a request binding error into a Condition.
//
//   - validator.ValidationErrors → Validation with one entry per field
//   - *json.UnmarshalTypeError   → Validation for the offending field
//   - malformed / empty JSON     → BadRequest("invalid JSON body")
//
// Conditions pass through unchanged; nil returns nil.
func FromBinding(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		payload := make(ValidationPayload, 0, len(verrs))
		for _, fe := range verrs {
			payload = append(payload, FieldError{
				Field: fieldName(fe),
				Error: describe(fe),
			})
		}
		return Validation(payload)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return Validation(ValidationPayload{{
			Field: field,
			Error: "must be a " + typeErr.Type.String(),
		}})
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return BadRequest("invalid JSON body")
	}

	return BadRequest(err.Error())
}

// RegisterJSONTagNames makes v report struct fields by their JSON name, so
// validation payloads match the request body the client sent.
func RegisterJSONTagNames(v *validator.Validate) {
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
}

func fieldName(fe validator.FieldError) string {
	if f := fe.Field(); f != "" {
		return f
	}
	return strings.ToLower(fe.StructField())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "email":
		return "must be a valid email"
	case "max":
		return fmt.Sprintf("too long. Maximum is %s symbols.", fe.Param())
	case "min":
		return fmt.Sprintf("too short. Minimum is %s symbols.", fe.Param())
	case "uuid", "uuid4":
		return "must be a UUID"
	default:
		return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
}
