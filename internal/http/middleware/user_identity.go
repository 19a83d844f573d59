package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserIDHeader carries the caller's id when token auth is disabled.
const UserIDHeader = "X-User-ID"

// UserIdentity resolves the authenticated user for every request. With a
// secret configured it requires an HMAC-signed bearer token and uses its
// subject; without one it trusts the X-User-ID header, which is only meant
// for local development behind a gateway.
func UserIdentity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if secret == "" {
				userID = strings.TrimSpace(r.Header.Get(UserIDHeader))
				if userID == "" {
					writeUnauthorized(w, "missing user id")
					return
				}
			} else {
				auth := r.Header.Get("Authorization")
				if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
					writeUnauthorized(w, "missing authorization header")
					return
				}
				claims := jwt.RegisteredClaims{}
				token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(secret), nil
				})
				if err != nil || !token.Valid {
					writeUnauthorized(w, "invalid token")
					return
				}
				userID = strings.TrimSpace(claims.Subject)
				if userID == "" {
					writeUnauthorized(w, "token has no subject")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID stores the authenticated user id on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
