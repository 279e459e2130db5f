// Package validator wraps go-playground struct validation and input
// sanitization for the request DTOs.
package validator

import (
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

func (v *Validator) registerCustomValidations() {
	// Contribution frequency accepted by the engine.
	_ = v.validate.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "daily", "weekly", "monthly":
			return true
		}
		return false
	})

	// Circle visibility.
	_ = v.validate.RegisterValidation("visibility", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "private", "public":
			return true
		}
		return false
	})
}

// Sanitize cleans string input to prevent XSS attacks
func Sanitize(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}
