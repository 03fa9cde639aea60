package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestVerifier(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	require.NoError(t, err)

	t.Run("valid token yields identity", func(t *testing.T) {
		tokenStr := signToken(t, testSecret, jwt.MapClaims{
			"org":   "org-1",
			"scope": "plans:read plans:write",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		identity, err := verifier.Verify(tokenStr)
		require.NoError(t, err)
		require.Equal(t, "org-1", identity.OrgCode)
		require.True(t, identity.HasScope(ScopePlansRead))
		require.True(t, identity.HasScope(ScopePlansWrite))
		require.True(t, identity.AllowsOrg("org-1"))
		require.False(t, identity.AllowsOrg("org-2"))
	})

	t.Run("wrong secret", func(t *testing.T) {
		tokenStr := signToken(t, []byte("ffffffffffffffffffffffffffffffff"), jwt.MapClaims{
			"org": "org-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(tokenStr)
		require.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		tokenStr := signToken(t, testSecret, jwt.MapClaims{
			"org": "org-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		_, err := verifier.Verify(tokenStr)
		require.Error(t, err)
	})

	t.Run("missing org claim", func(t *testing.T) {
		tokenStr := signToken(t, testSecret, jwt.MapClaims{
			"scope": "plans:read",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(tokenStr)
		require.Error(t, err)
	})

	t.Run("secret too short", func(t *testing.T) {
		_, err := NewVerifier([]byte("short"))
		require.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	require.NoError(t, err)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromContext(r.Context())
		if identity == nil {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(identity.OrgCode))
	})

	handler := Middleware(verifier)(echo)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token injects identity", func(t *testing.T) {
		tokenStr := signToken(t, testSecret, jwt.MapClaims{
			"org":   "org-1",
			"scope": "plans:read",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest(http.MethodGet, "/plans", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "org-1", rec.Body.String())
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/plans", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health bypasses auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		// No identity was injected, the inner handler reports that.
		require.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("nil verifier injects dev identity", func(t *testing.T) {
		open := Middleware(nil)(echo)
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, Wildcard, rec.Body.String())
	})
}
