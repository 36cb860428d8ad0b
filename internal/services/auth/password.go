// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordValidator validates passwords against the account policy.
type PasswordValidator struct {
	MinLength int
	// MaxLength guards the 72 byte input limit of bcrypt.
	MaxLength     int
	RejectBlank   bool
	RejectNumeric bool
}

// DefaultPasswordValidator returns the policy used for registration.
func DefaultPasswordValidator() *PasswordValidator {
	return &PasswordValidator{
		MinLength:   6,
		MaxLength:   72,
		RejectBlank: true,
	}
}

// ValidationError represents a single password validation error
type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// PasswordValidationError wraps multiple validation errors
type PasswordValidationError struct {
	Errors []ValidationError
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return e.Errors[0].Message
}

// Messages returns all error messages
func (e *PasswordValidationError) Messages() []string {
	messages := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		messages[i] = err.Message
	}
	return messages
}

// Validate checks password and returns every violated rule, or nil.
func (v *PasswordValidator) Validate(password string) error {
	var errs []ValidationError

	if len([]rune(password)) < v.MinLength {
		errs = append(errs, ValidationError{
			Code:    "min_length",
			Message: fmt.Sprintf("Password must be at least %d characters long.", v.MinLength),
		})
	}

	if v.MaxLength > 0 && len(password) > v.MaxLength {
		errs = append(errs, ValidationError{
			Code:    "max_length",
			Message: fmt.Sprintf("Password must be at most %d bytes long.", v.MaxLength),
		})
	}

	if v.RejectBlank && password != "" && strings.TrimSpace(password) == "" {
		errs = append(errs, ValidationError{
			Code:    "blank",
			Message: "Password cannot consist of whitespace only.",
		})
	}

	if v.RejectNumeric && isEntirelyNumeric(password) {
		errs = append(errs, ValidationError{
			Code:    "entirely_numeric",
			Message: "Password cannot be entirely numeric.",
		})
	}

	if len(errs) == 0 {
		return nil
	}
	return &PasswordValidationError{Errors: errs}
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(password) > 0
}
