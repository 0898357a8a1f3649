package httpsrv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	// CallerContextKey is the key used to store/retrieve the authenticated caller from context
	CallerContextKey contextKey = "ingress_caller"
)

// IssueToken creates a signed HS256 JWT identifying an internal caller of the ingress.
func IssueToken(secret, caller string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   caller,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken parses and validates a JWT, returning the subject (caller name).
func ValidateToken(secret, tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// RequireToken guards the ingress trust boundary. An empty secret disables the check:
// the endpoint is then reachable by anything that can reach the listener.
func RequireToken(secret string, reject func(w http.ResponseWriter, status int, msg string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				reject(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			caller, err := ValidateToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				reject(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			// [ENRICHMENT] Inject the identity into the context for downstream handlers
			ctx := context.WithValue(r.Context(), CallerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext is a helper to extract the caller identity from context safely.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(CallerContextKey).(string)
	return caller, ok
}
