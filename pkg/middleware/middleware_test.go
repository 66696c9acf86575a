package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lost-found-portal/pkg/models"
)

type fakeTokens map[string]models.Identity

func (f fakeTokens) ParseIdentity(token string) (models.Identity, error) {
	id, ok := f[token]
	if !ok {
		return models.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

func TestAuthMiddleware(t *testing.T) {
	tokens := fakeTokens{"good": {UserID: "u1", Email: "a@b.co"}}
	var seen models.Identity
	h := AuthMiddleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		require.True(t, ok)
		seen = id
		assert.Equal(t, "good", TokenFrom(r.Context()))
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"no bearer prefix", "good", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, "u1", seen.UserID)
}

type gateFunc func() error

func (f gateFunc) RequireAdmin() error { return f() }

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	RequireAdmin(gateFunc(func() error { return errors.New("unauthorized") }))(ok).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	RequireAdmin(gateFunc(func() error { return nil }))(ok).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTraceMiddleware(t *testing.T) {
	var inner string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = GetTraceID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceHeader, "trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-1", inner)
	assert.Equal(t, "trace-1", rec.Header().Get(TraceHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, inner)
	assert.Equal(t, inner, rec.Header().Get(TraceHeader))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/admin/reports/:id/resolve", normalizePath("/admin/reports/2aXyQ8jLqS1mNpTzR4vWkB0cD9e/resolve"))
	assert.Equal(t, "/api/feed", normalizePath("/api/feed"))
}
