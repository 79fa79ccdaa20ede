package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/Dan9191/ledger-service/internal/service"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their json names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into v and checks its validate tags.
// Amounts are left to the ledger so that bad ones are still recorded.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", service.ErrInvalidInput, err)
	}
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", service.ErrInvalidInput, field)
	case "email":
		return fmt.Errorf("%w: %s must be a valid email", service.ErrInvalidInput, field)
	case "oneof":
		return fmt.Errorf("%w: %s must be one of [%s]", service.ErrInvalidInput, field, fe.Param())
	case "min", "gte":
		return fmt.Errorf("%w: %s must be at least %s", service.ErrInvalidInput, field, fe.Param())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s", service.ErrInvalidInput, field, fe.Param())
	}
	return fmt.Errorf("%w: %s failed %s", service.ErrInvalidInput, field, fe.Tag())
}
