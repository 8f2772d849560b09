package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"accounts/backend/internal/model"
	"accounts/backend/internal/repository"
	"accounts/backend/internal/repository/mocks"
)

type testServer struct {
	*Server
	logs *bytes.Buffer
}

func testConfig() Config {
	return Config{
		Port:          "5000",
		Env:           "production",
		JWTSecret:     "test-secret",
		TokenTTL:      24 * time.Hour,
		Store:         StoreMemory,
		ResetTokenTTL: time.Hour,
		ResetURL:      "http://localhost:5000/reset-password",
		LogFormat:     "json",
		HashCost:      bcrypt.MinCost,
	}
}

func newTestServer(t *testing.T, cfg Config, users repository.UserRepository) *testServer {
	t.Helper()
	if users == nil {
		users = repository.NewMemoryUserRepository()
	}
	logs := &bytes.Buffer{}
	s, err := NewServerWithRepository(cfg, NewLogger("accounts", "test", "json", false, logs), users)
	require.NoError(t, err)
	return &testServer{Server: s, logs: logs}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

// register creates an account and returns its auth cookie.
func (ts *testServer) register(t *testing.T, name, email, password string, role model.Role) *http.Cookie {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/users", map[string]string{
		"name": name, "email": email, "password": password, "role": string(role),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return authCookieOf(t, rec)
}

func (ts *testServer) userID(t *testing.T, cookie *http.Cookie) string {
	t.Helper()
	identity, err := ts.tokens.Parse(cookie.Value)
	require.NoError(t, err)
	return identity.UserID
}

func (ts *testServer) resetToken(t *testing.T) string {
	t.Helper()
	var url string
	sc := bufio.NewScanner(bytes.NewReader(ts.logs.Bytes()))
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		if entry["msg"] == "password reset link" {
			url, _ = entry["url"].(string)
		}
	}
	require.NotEmpty(t, url, "no reset link logged")
	return url[strings.LastIndex(url, "/")+1:]
}

func authCookieOf(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == authCookieName {
			return c
		}
	}
	t.Fatalf("response has no %s cookie", authCookieName)
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_Register(t *testing.T) {
	t.Run("returns a token and sets the auth cookie", func(t *testing.T) {
		ts := newTestServer(t, testConfig(), nil)

		rec := ts.do(t, http.MethodPost, "/api/users", map[string]string{
			"name": "Ann Smith", "email": "Ann@Example.com", "password": "secret1",
		})

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody[tokenResponse](t, rec)
		require.NotEmpty(t, body.Token)

		cookie := authCookieOf(t, rec)
		assert.Equal(t, body.Token, cookie.Value)
		assert.Equal(t, "/", cookie.Path)
		assert.Equal(t, 86400, cookie.MaxAge)
		assert.True(t, cookie.HttpOnly)
		assert.True(t, cookie.Secure)
		assert.Equal(t, http.SameSiteNoneMode, cookie.SameSite)

		identity, err := ts.tokens.Parse(body.Token)
		require.NoError(t, err)
		assert.Equal(t, string(model.RoleUser), identity.Role)
	})

	t.Run("development cookies are not secure", func(t *testing.T) {
		cfg := testConfig()
		cfg.Env = "development"
		ts := newTestServer(t, cfg, nil)

		cookie := ts.register(t, "Ann Smith", "ann@example.com", "secret1", "")
		assert.False(t, cookie.Secure)
	})

	t.Run("duplicate email", func(t *testing.T) {
		ts := newTestServer(t, testConfig(), nil)
		ts.register(t, "Ann Smith", "ann@example.com", "secret1", "")

		rec := ts.do(t, http.MethodPost, "/api/users", map[string]string{
			"name": "Other Ann", "email": "ANN@example.com", "password": "secret2",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"User already exists"}`, rec.Body.String())
	})

	t.Run("validation failures list every field", func(t *testing.T) {
		ts := newTestServer(t, testConfig(), nil)

		rec := ts.do(t, http.MethodPost, "/api/users", map[string]string{
			"name": "Al", "email": "not-an-email", "password": "123", "role": "root",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[responseError](t, rec)
		assert.Equal(t, "validation failed", body.Error)
		assert.Equal(t, []string{
			"Name must be at least 3 characters long",
			"Please enter a valid email address",
			"Password must be at least 6 characters long",
			"Role must be either 'user' or 'admin'",
		}, body.Messages)
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("oversized body", func(t *testing.T) {
		ts := newTestServer(t, testConfig(), nil)

		body := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `","email":"ann@example.com","password":"secret1"}`
		rec := ts.do(t, http.MethodPost, "/api/users", body)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.JSONEq(t, `{"error":"request body too large"}`, rec.Body.String())

		all, err := ts.accounts.ListUsers(t.Context(), "")
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := newTestServer(t, testConfig(), nil)

		rec := ts.do(t, http.MethodPost, "/api/users", "{not json")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())
	})
}

func TestServer_Login(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	registered := ts.register(t, "Ann Smith", "ann@example.com", "secret1", "")

	t.Run("valid credentials", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/login", map[string]string{
			"email": "ann@example.com", "password": "secret1",
		})

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody[tokenResponse](t, rec)
		assert.Equal(t, body.Token, authCookieOf(t, rec).Value)
		assert.Equal(t, ts.userID(t, registered), ts.userID(t, authCookieOf(t, rec)))
	})

	for name, body := range map[string]map[string]string{
		"wrong password": {"email": "ann@example.com", "password": "wrong-one"},
		"unknown email":  {"email": "bob@example.com", "password": "secret1"},
		"empty body":     {},
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/login", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"Invalid email or password"}`, rec.Body.String())
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestServer_Logout(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	rec := ts.do(t, http.MethodPost, "/api/logout", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Logged out successfully"}`, rec.Body.String())
	cookie := authCookieOf(t, rec)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.Less(t, cookie.MaxAge, 0)
	assert.True(t, cookie.HttpOnly)
}

func TestServer_ListUsers(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	admin := ts.register(t, "Root Admin", "root@example.com", "secret1", model.RoleAdmin)
	user := ts.register(t, "Ann Smith", "ann@example.com", "secret1", "")

	t.Run("missing token", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/users", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Please provide token"}`, rec.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/users", nil, &http.Cookie{Name: authCookieName, Value: "garbage"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	})

	t.Run("non-admin", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/users", nil, user)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"Access denied"}`, rec.Body.String())
	})

	t.Run("admin lists everyone without secrets", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/users", nil, admin)

		require.Equal(t, http.StatusOK, rec.Code)
		users := decodeBody[[]map[string]any](t, rec)
		require.Len(t, users, 2)
		for _, u := range users {
			assert.NotContains(t, u, "password")
			assert.NotContains(t, u, "resetPasswordToken")
			assert.Contains(t, u, "_id")
		}
		assert.Equal(t, "root@example.com", users[0]["email"])
		assert.Equal(t, "ann@example.com", users[1]["email"])
	})

	t.Run("role filter", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/users?role=admin", nil, admin)

		require.Equal(t, http.StatusOK, rec.Code)
		users := decodeBody[[]map[string]any](t, rec)
		require.Len(t, users, 1)
		assert.Equal(t, "admin", users[0]["role"])
	})

	t.Run("bearer header is accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer "+admin.Value)
		rec := httptest.NewRecorder()
		ts.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServer_UpdateUser(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ann := ts.register(t, "Ann Smith", "ann@example.com", "secret1", "")
	bob := ts.register(t, "Bob Jones", "bob@example.com", "secret1", "")
	annID := ts.userID(t, ann)

	t.Run("own profile", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, "/api/users/"+annID, map[string]string{"name": "Ann Lee"}, ann)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, profileResponse{ID: annID, Name: "Ann Lee", Email: "ann@example.com"}, decodeBody[profileResponse](t, rec))
	})

	t.Run("someone else's profile", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, "/api/users/"+annID, map[string]string{"name": "Hacked"}, bob)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"You can only update your own data"}`, rec.Body.String())
	})

	for name, body := range map[string]any{
		"malformed body":    "not json",
		"wrong field types": `{"name": 123}`,
		"empty body":        "",
	} {
		t.Run("someone else's profile with "+name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPut, "/api/users/"+annID, body, bob)

			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.JSONEq(t, `{"error":"You can only update your own data"}`, rec.Body.String())
		})
	}

	t.Run("own profile with a malformed body", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, "/api/users/"+annID, "not json", ann)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())
	})

	t.Run("taken email", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, "/api/users/"+annID, map[string]string{"email": "bob@example.com"}, ann)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"User already exists"}`, rec.Body.String())
	})

	t.Run("invalid email", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, "/api/users/"+annID, map[string]string{"email": "nope"}, ann)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[responseError](t, rec)
		assert.Equal(t, []string{"Please enter a valid email address"}, body.Messages)
	})

	t.Run("requires a token", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, "/api/users/"+annID, map[string]string{"name": "Ann Lee"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestServer_DeleteUser(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	admin := ts.register(t, "Root Admin", "root@example.com", "secret1", model.RoleAdmin)
	ann := ts.register(t, "Ann Smith", "ann@example.com", "secret1", "")
	annID := ts.userID(t, ann)

	t.Run("non-admin", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/users/"+annID, nil, ann)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"Access denied. Admins only"}`, rec.Body.String())
	})

	t.Run("admin deletes", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/users/"+annID, nil, admin)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"User deleted successfully"}`, rec.Body.String())

		rec = ts.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ann@example.com", "password": "secret1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing user", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/users/"+annID, nil, admin)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"User not found"}`, rec.Body.String())
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/users/not-an-id", nil, admin)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_PasswordReset(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.register(t, "Ann Smith", "ann@example.com", "secret1", "")

	rec := ts.do(t, http.MethodPost, "/api/password-reset", map[string]string{"email": "ann@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	generic := rec.Body.String()

	token := ts.resetToken(t)

	rec = ts.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "brand-new"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Password has been successfully reset"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ann@example.com", "password": "brand-new"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ann@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	t.Run("token is single use", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "another1"})

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Invalid or expired token"}`, rec.Body.String())
	})

	t.Run("unknown email gets the same answer", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/password-reset", map[string]string{"email": "ghost@example.com"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, generic, rec.Body.String())
	})

	t.Run("invalid email", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/password-reset", map[string]string{"email": "nope"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("short new password", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": "abc", "newPassword": "123"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[responseError](t, rec)
		assert.Equal(t, []string{"New password must be at least 6 characters long"}, body.Messages)
	})
}

func TestServer_InternalErrors(t *testing.T) {
	failing := func(t *testing.T) repository.UserRepository {
		users := mocks.NewMockUserRepository(t)
		users.On("FindByEmail", mock.Anything, "ann@example.com").Return(model.User{}, errors.New("connection refused"))
		return users
	}
	login := map[string]string{"email": "ann@example.com", "password": "secret1"}

	t.Run("production hides the cause", func(t *testing.T) {
		ts := newTestServer(t, testConfig(), failing(t))

		rec := ts.do(t, http.MethodPost, "/api/login", login)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"Something went wrong"}`, rec.Body.String())
		assert.Contains(t, ts.logs.String(), `"msg":"request failed"`)
		assert.Contains(t, ts.logs.String(), "connection refused")
	})

	t.Run("development shows the cause", func(t *testing.T) {
		cfg := testConfig()
		cfg.Env = "development"
		ts := newTestServer(t, cfg, failing(t))

		rec := ts.do(t, http.MethodPost, "/api/login", login)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decodeBody[responseError](t, rec).Error, "connection refused")
	})
}

func TestServer_Ambient(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	t.Run("root", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "API is running...", rec.Body.String())
	})

	t.Run("health", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","service":"accounts"}`, rec.Body.String())
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/nothing-here", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"message":"Not found"}`, rec.Body.String())
	})

	t.Run("request id and access log", func(t *testing.T) {
		ts.do(t, http.MethodGet, "/health", nil)
		assert.Contains(t, ts.logs.String(), `"msg":"http request"`)
		assert.Contains(t, ts.logs.String(), `"service":"accounts"`)
	})

	t.Run("cors reflects the origin with credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
		req.Header.Set("Origin", "http://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		ts.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "http://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("metrics", func(t *testing.T) {
		ts.do(t, http.MethodPost, "/api/login", map[string]string{"email": "x@example.com", "password": "secret1"})

		rec := ts.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `accounts_http_requests_total{method="GET",route="/health",status="200"}`)
		assert.Contains(t, body, `accounts_auth_events_total{event="login",outcome="failure"} 1`)
		assert.Contains(t, body, "accounts_http_request_duration_seconds")
	})
}
