package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// orgClaims is the claim set the identity provider puts in each access
// token: the organization the caller submits for and a space-separated
// scope string, OAuth style.
type orgClaims struct {
	Org   string `json:"org"`
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens issued by the identity provider and
// turns their claims into an Identity.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HS256 tokens signed with the
// shared secret the identity provider was configured with.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	return &Verifier{secret: secret}, nil
}

// Verify parses and validates a bearer token, returning the identity
// it carries.
func (v *Verifier) Verify(tokenStr string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &orgClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(*orgClaims)
	if !ok || claims.Org == "" {
		return nil, errors.New("token missing org claim")
	}

	return &Identity{
		OrgCode: claims.Org,
		Scopes:  splitScopes(claims.Scope),
	}, nil
}

// Middleware returns an HTTP middleware that requires a valid bearer
// token on every request except /health, and stores the resulting
// identity in the request context. A nil verifier disables
// authentication and injects the dev identity.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			if v == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), DevIdentity())))
				return
			}

			tokenStr, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			identity, err := v.Verify(tokenStr)
			if err != nil {
				log.Debug().Err(err).Msg("token verification failed")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
