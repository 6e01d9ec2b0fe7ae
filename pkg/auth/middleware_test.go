package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedEcho(t *testing.T) (http.Handler, *Identity) {
	t.Helper()
	var seen Identity
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFrom(r.Context()); ok {
			seen = id
		}
		w.WriteHeader(http.StatusOK)
	}), &seen
}

func TestRequireRejectsMissingCredentials(t *testing.T) {
	m := newTestManager(t)
	inner, _ := protectedEcho(t)

	rec := httptest.NewRecorder()
	m.Require(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing credentials")
}

func TestRequireAcceptsBearerToken(t *testing.T) {
	m := newTestManager(t)
	inner, seen := protectedEcho(t)

	token, err := m.Login(testAdminUser, testPassword)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	m.Require(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testAdminUser, seen.Subject)
}

func TestRequireAcceptsAPIKey(t *testing.T) {
	m := newTestManager(t)
	inner, seen := protectedEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	m.Require(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "apikey:"+testKeyName, seen.Subject)
}

func TestRequireRejectsBadToken(t *testing.T) {
	m := newTestManager(t)
	inner, _ := protectedEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	m.Require(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequirePassThroughWhenDisabled(t *testing.T) {
	m, err := NewManager(Config{})
	require.NoError(t, err)
	inner, _ := protectedEcho(t)

	rec := httptest.NewRecorder()
	m.Require(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
