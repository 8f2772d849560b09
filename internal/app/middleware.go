package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"accounts/backend/internal/auth"
	"accounts/backend/internal/model"
)

const authCookieName = "authorization_token"

// handlerFunc is an endpoint that reports failures by returning them.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// check runs before a handler. It may return a derived request, for example
// one carrying the caller's identity.
type check func(r *http.Request) (*http.Request, error)

// dispatch runs checks in order and then h. The first error, from a check or
// from h, is written as the response.
func (s *Server) dispatch(h handlerFunc, checks ...check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, c := range checks {
			next, err := c(r)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			r = next
		}
		if err := h(w, r); err != nil {
			s.writeError(w, r, err)
		}
	}
}

// requireIdentity reads the identity token from the auth cookie, falling back
// to an "Authorization: Bearer" header.
func (s *Server) requireIdentity(r *http.Request) (*http.Request, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, errUnauthorized("Please provide token")
	}
	identity, err := s.tokens.Parse(token)
	if err != nil {
		return nil, errUnauthorized("Unauthorized")
	}
	return r.WithContext(auth.WithIdentity(r.Context(), identity)), nil
}

func requireRole(role model.Role) check {
	return func(r *http.Request) (*http.Request, error) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok || model.Role(identity.Role) != role {
			return nil, errAccessDenied()
		}
		return r, nil
	}
}

// requireSelf lets the request through only when the caller's identity is
// the user named by the URL parameter param.
func requireSelf(param string) check {
	return func(r *http.Request) (*http.Request, error) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok || identity.UserID != chi.URLParam(r, param) {
			return nil, errNotSelf()
		}
		return r, nil
	}
}

func bearerToken(r *http.Request) string {
	if c, err := r.Cookie(authCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", statusOf(ww),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, s.authCookie(token, int(s.tokens.TTL().Seconds())))
}

func (s *Server) clearAuthCookie(w http.ResponseWriter) {
	c := s.authCookie("", -1)
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (s *Server) authCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
		Secure:   !s.cfg.IsDevelopment(),
	}
}
