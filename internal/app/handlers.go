package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"accounts/backend/internal/auth"
	"accounts/backend/internal/errutil"
	"accounts/backend/internal/service"
)

type tokenResponse struct {
	Token string `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type profileResponse struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("API is running..."))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "accounts"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) error {
	var input service.RegisterInput
	if err := decodeJSON(w, r, &input); err != nil {
		return err
	}

	session, err := s.accounts.Register(r.Context(), input)
	s.metrics.AuthEvent("register", outcome(err))
	if err != nil {
		return err
	}

	s.setAuthCookie(w, session.Token)
	writeJSON(w, http.StatusOK, tokenResponse{Token: session.Token})
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var input service.LoginInput
	if err := decodeJSON(w, r, &input); err != nil {
		return err
	}

	session, err := s.accounts.Login(r.Context(), input)
	s.metrics.AuthEvent("login", outcome(err))
	if err != nil {
		return err
	}

	s.setAuthCookie(w, session.Token)
	writeJSON(w, http.StatusOK, tokenResponse{Token: session.Token})
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) error {
	s.clearAuthCookie(w)
	s.metrics.AuthEvent("logout", "success")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
	return nil
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := s.accounts.ListUsers(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, users)
	return nil
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) error {
	identity, _ := auth.IdentityFromContext(r.Context())

	var input service.UpdateProfileInput
	if err := decodeJSON(w, r, &input); err != nil {
		return err
	}

	user, err := s.accounts.UpdateProfile(r.Context(), identity, chi.URLParam(r, "id"), input)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, profileResponse{ID: user.ID.Hex(), Name: user.Name, Email: user.Email})
	return nil
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) error {
	identity, _ := auth.IdentityFromContext(r.Context())
	if err := s.accounts.DeleteUser(r.Context(), identity, chi.URLParam(r, "id")); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
	return nil
}

func (s *Server) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) error {
	var input service.ResetRequestInput
	if err := decodeJSON(w, r, &input); err != nil {
		return err
	}

	err := s.accounts.RequestPasswordReset(r.Context(), input)
	s.metrics.AuthEvent("password_reset_request", outcome(err))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "If that email is registered, a password reset link has been sent"})
	return nil
}

func (s *Server) handleCompletePasswordReset(w http.ResponseWriter, r *http.Request) error {
	var input service.CompleteResetInput
	if err := decodeJSON(w, r, &input); err != nil {
		return err
	}

	err := s.accounts.CompletePasswordReset(r.Context(), input)
	s.metrics.AuthEvent("password_reset", outcome(err))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been successfully reset"})
	return nil
}

// outcome labels an auth event: coded errors are failures, anything else is
// an internal error.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errutil.Code(err) != "":
		return "failure"
	default:
		return "error"
	}
}
