package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// bcrypt ignores everything past 72 bytes, so longer passwords are refused.
const maxPasswordBytes = 72

var validate = newValidator()

var fieldMessages = map[string]string{
	"name.required":        "Name is required",
	"name.min":             "Name must be at least 3 characters long",
	"email.required":       "Email is required",
	"email.email":          "Please enter a valid email address",
	"password.required":    "Password is required",
	"password.min":         "Password must be at least 6 characters long",
	"password.bcrypt":      "Password must be at most 72 bytes long",
	"newPassword.required": "New password is required",
	"newPassword.min":      "New password must be at least 6 characters long",
	"newPassword.bcrypt":   "New password must be at most 72 bytes long",
	"role.oneof":           "Role must be either 'user' or 'admin'",
	"token.required":       "Token is required",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("bcrypt", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	})
	return v
}

// Validate checks a struct carrying `validate` tags and returns one
// human-readable message per failed rule, in field order. A nil result means
// the value is valid.
func Validate(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fieldMessage(fe))
	}
	return messages
}

func fieldMessage(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
