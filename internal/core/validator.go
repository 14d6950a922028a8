package core

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"polarsync/internal/types"
)

// Validator wraps go-playground/validator so handlers get AppErrors with
// field-level details instead of raw validation errors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator using struct json tags for field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{validate: v}
}

// ValidateStruct validates the struct's `validate` tags. On failure it
// returns a 400 AppError listing each offending field and the rule it broke.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "value is not validatable", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request failed validation",
		err,
		map[string]any{"fields": fields},
	)
}
