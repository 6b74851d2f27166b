package continuum

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

// getValidator returns the package-wide validator instance, initialized
// lazily on first use (the validator library recommends reusing a single
// instance — it caches struct reflection).
func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// validateStruct validates s and wraps any failure as a KindValidation Error.
func validateStruct(op string, s any) error {
	if err := getValidator().Struct(s); err != nil {
		return newError(KindValidation, op, err)
	}
	return nil
}
