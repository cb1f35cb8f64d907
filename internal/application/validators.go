package application

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-promptlab/internal/domain"
)

// validate is the package validator with every custom rule registered.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterValidators(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterValidators adds the modelid and aggregation rules used by
// experiment file struct tags.
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelid", validateModelID); err != nil {
		return fmt.Errorf("failed to register modelid validator: %w", err)
	}
	if err := v.RegisterValidation("aggregation", validateAggregation); err != nil {
		return fmt.Errorf("failed to register aggregation validator: %w", err)
	}
	return nil
}

// validateModelID checks the "provider:model" format. Empty strings pass so
// the rule composes with omitempty and required.
func validateModelID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return true
	}
	_, _, err := domain.ParseModelID(id)
	return err == nil
}

func validateAggregation(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == "" || domain.Aggregation(s).Valid()
}
