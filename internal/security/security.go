// Package security guards the ops HTTP surface: basic auth, an RSA JWT
// check with an admin-or-self rule, and request-id middleware.
package security

import (
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// identityHeader carries the caller's asserted user id; the token check
// accepts it when it matches the token subject.
const identityHeader = "x-identity"

// Validator handles JWT token validation for the ops endpoints.
type Validator struct {
	publicKey *rsa.PublicKey
	appName   string
}

// NewValidator parses an RSA public key in PEM form.
func NewValidator(publicKeyPEM, appName string) (*Validator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %v", err)
		}
		var ok bool
		publicKey, ok = key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
	}

	return &Validator{publicKey: publicKey, appName: appName}, nil
}

// Authorize validates the token and applies the profiling rule: the
// caller must hold the admin role for this application, or the token
// subject must match the asserted user id.
func (v *Validator) Authorize(tokenString, userID string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return fmt.Errorf("failed to parse token: %v", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid claims")
	}

	if hasAdminRole(claims, v.appName) {
		return nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" && sub == userID {
		return nil
	}
	return fmt.Errorf("security context not valid")
}

// hasAdminRole checks the applications claim for the admin role of the
// given application.
func hasAdminRole(claims jwt.MapClaims, appName string) bool {
	apps, ok := claims["applications"].(map[string]any)
	if !ok {
		return false
	}
	roles, ok := apps[appName].([]any)
	if !ok {
		return false
	}
	for _, r := range roles {
		if s, ok := r.(string); ok && s == "admin" {
			return true
		}
	}
	return false
}

// Middleware validates the bearer token on every request except the
// health check.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if err := v.Authorize(tokenString, r.Header.Get(identityHeader)); err != nil {
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BasicAuth guards a handler with HTTP basic auth. Empty credentials
// disable the check.
func BasicAuth(user, pass string, next http.Handler) http.Handler {
	if user == "" && pass == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="ops"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
