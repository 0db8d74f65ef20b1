package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// ErrInvalidRequirement wraps validation failures of a Requirement payload.
var ErrInvalidRequirement = errors.New("access: invalid requirement")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// RegisterValidations adds the "module" and "notblank" tags to v.
func RegisterValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("module", func(fl validator.FieldLevel) bool {
		return Module(fl.Field().String()).Known()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("notblank", validators.NotBlank)
}

// Validator returns the shared validator with access tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		if err := RegisterValidations(validate); err != nil {
			panic(fmt.Sprintf("access: register validations: %v", err))
		}
	})
	return validate
}

// ValidateRequirement checks a Requirement received from outside the process.
// The evaluator itself never validates.
func ValidateRequirement(req Requirement) error {
	if err := Validator().Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequirement, err)
	}
	return nil
}
