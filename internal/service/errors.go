package service

import (
	"github.com/samber/oops"
)

// Error codes carried by every error this package returns on purpose.
// Anything without one of these codes is an internal failure.
const (
	CodeValidation         = "ACCOUNT_VALIDATION"
	CodeUserExists         = "ACCOUNT_USER_EXISTS"
	CodeInvalidCredentials = "ACCOUNT_INVALID_CREDENTIALS"
	CodeForbidden          = "ACCOUNT_FORBIDDEN"
	CodeNotFound           = "ACCOUNT_NOT_FOUND"
	CodeResetTokenInvalid  = "ACCOUNT_RESET_TOKEN_INVALID"
)

// ValidationMessagesKey is the oops context key holding the []string of
// field messages of a validation error.
const ValidationMessagesKey = "messages"

func validationError(messages []string) error {
	return oops.Code(CodeValidation).
		With(ValidationMessagesKey, messages).
		Errorf("validation failed")
}

func errUserExists() error {
	return oops.Code(CodeUserExists).Errorf("User already exists")
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("Invalid email or password")
}

func errForbidden(msg string) error {
	return oops.Code(CodeForbidden).Errorf("%s", msg)
}

func errNotFound() error {
	return oops.Code(CodeNotFound).Errorf("User not found")
}

func errResetTokenInvalid() error {
	return oops.Code(CodeResetTokenInvalid).Errorf("Invalid or expired token")
}

func internalError(operation string, err error) error {
	return oops.With("operation", operation).Wrap(err)
}

// ValidationMessages returns the field messages of a validation error, or
// nil for any other error.
func ValidationMessages(err error) []string {
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Code() != CodeValidation {
		return nil
	}
	messages, _ := oopsErr.Context()[ValidationMessagesKey].([]string)
	return messages
}
