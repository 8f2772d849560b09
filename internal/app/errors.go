package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samber/oops"

	"accounts/backend/internal/errutil"
	"accounts/backend/internal/service"
)

const (
	codeBadRequest   = "HTTP_BAD_REQUEST"
	codeUnauthorized = "HTTP_UNAUTHORIZED"
	codeAccessDenied = "HTTP_ACCESS_DENIED"
	codeNotSelf      = "HTTP_NOT_SELF"
	codeTooLarge     = "HTTP_BODY_TOO_LARGE"
)

// maxBodyBytes caps JSON request bodies. Every payload here is a handful of
// short strings.
const maxBodyBytes = 64 << 10

type responseError struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

func errBadRequest(msg string, cause error) error {
	return oops.Code(codeBadRequest).With("cause", cause.Error()).Errorf("%s", msg)
}

func errUnauthorized(msg string) error {
	return oops.Code(codeUnauthorized).Errorf("%s", msg)
}

func errNotSelf() error {
	return oops.Code(codeNotSelf).Errorf("You can only update your own data")
}

func errAccessDenied() error {
	return oops.Code(codeAccessDenied).Errorf("Access denied")
}

// statusFor maps an error code to its HTTP status. Zero means internal.
func statusFor(code string) int {
	switch code {
	case service.CodeValidation, service.CodeUserExists, service.CodeInvalidCredentials, codeBadRequest:
		return http.StatusBadRequest
	case codeUnauthorized:
		return http.StatusUnauthorized
	case service.CodeForbidden, codeAccessDenied, codeNotSelf:
		return http.StatusForbidden
	case service.CodeNotFound, service.CodeResetTokenInvalid:
		return http.StatusNotFound
	case codeTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return 0
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if status := statusFor(errutil.Code(err)); status != 0 {
		body := responseError{Error: err.Error()}
		if msgs := service.ValidationMessages(err); msgs != nil {
			body.Messages = msgs
		}
		writeJSON(w, status, body)
		return
	}

	errutil.LogError(r.Context(), s.logger, "request failed", err,
		"method", r.Method,
		"path", r.URL.Path,
	)
	msg := "Something went wrong"
	if s.cfg.IsDevelopment() {
		msg = err.Error()
	}
	writeErr(w, http.StatusInternalServerError, msg)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, responseError{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return oops.Code(codeTooLarge).Errorf("request body too large")
		}
		return errBadRequest("invalid request body", err)
	}
	return nil
}
