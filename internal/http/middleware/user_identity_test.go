package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func serveIdentity(secret string, req *http.Request) (*httptest.ResponseRecorder, string) {
	var seen string
	handler := UserIdentity(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestUserIdentity_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/chats/history", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "secret", "user-42"))
	req.Header.Set(UserIDHeader, "spoofed")

	rec, userID := serveIdentity("secret", req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", userID)
}

func TestUserIdentity_RejectsBadTokens(t *testing.T) {
	cases := map[string]string{
		"missing header": "",
		"wrong secret":   "Bearer " + signedToken(t, "other", "user-42"),
		"no subject":     "Bearer " + signedToken(t, "secret", ""),
		"not bearer":     "Basic dXNlcjpwYXNz",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/chats/history", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec, userID := serveIdentity("secret", req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, userID)
		})
	}
}

func TestUserIdentity_HeaderFallbackWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/chats/history", nil)
	req.Header.Set(UserIDHeader, " user-7 ")
	rec, userID := serveIdentity("", req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", userID)

	rec, _ = serveIdentity("", httptest.NewRequest(http.MethodGet, "/chats/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
