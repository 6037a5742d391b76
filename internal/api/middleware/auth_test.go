package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smartautomapper/sam/internal/api/middleware"
)

const testAdminToken = "s3cret-admin-token"

func adminHandler(token string) http.Handler {
	return middleware.AdminAuth(token)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAdminAuth_MissingAuthorizationHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/flags", http.NoBody)
	rec := httptest.NewRecorder()

	adminHandler(testAdminToken).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestAdminAuth_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"no bearer prefix", testAdminToken, "invalid authorization header format"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "missing bearer token"},
		{"just bearer", "Bearer", "invalid authorization header format"},
		{"wrong token", "Bearer not-the-token", "invalid admin token"},
		{"token prefix only", "Bearer s3cret", "invalid admin token"},
	}

	handler := adminHandler(testAdminToken)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/flags", http.NoBody)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.detail)
		})
	}
}

func TestAdminAuth_Accepted(t *testing.T) {
	for _, header := range []string{"Bearer " + testAdminToken, "bearer " + testAdminToken} {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/flags", http.NoBody)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()

		adminHandler(testAdminToken).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, header)
	}
}

func TestAdminAuth_DisabledWithoutToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/flags", http.NoBody)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()

	adminHandler("").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin access is disabled")
}
