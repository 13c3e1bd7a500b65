package service

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// OpError is the caller-facing error for auth operations: a stable
// "auth.<Method>" tag plus a message suitable for direct display.
// The underlying cause stays available via Unwrap for logging.
type OpError struct {
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op, message string, err error) *OpError {
	return &OpError{Op: op, Message: message, Err: err}
}

// credentials is the pre-flight validation shape for sign-in/sign-up.
// Malformed input is rejected before any remote call is attempted.
type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

var credentialValidator = validator.New(validator.WithRequiredStructEnabled())

func validateCredentials(op, email, password string) error {
	err := credentialValidator.Struct(credentials{Email: email, Password: password})
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Email":
			return opErr(op, "Please enter a valid email address.", err)
		case "Password":
			return opErr(op, "Password must be at least 6 characters.", err)
		}
	}
	return opErr(op, "Invalid credentials.", err)
}

func validateEmail(op, email string) error {
	err := credentialValidator.Var(email, "required,email")
	if err != nil {
		return opErr(op, "Please enter a valid email address.", err)
	}
	return nil
}
