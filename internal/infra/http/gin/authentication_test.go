package ginserver

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, userID string, expiry time.Duration) string {
	t.Helper()
	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func runAuth(t *testing.T, authorization string) (principal, bool) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/chat/all", nil)
	if authorization != "" {
		c.Request.Header.Set("Authorization", authorization)
	}
	AuthMiddleware{Secret: testSecret, Logger: slog.New(slog.DiscardHandler)}.Handle(c)
	return currentPrincipal(c)
}

func TestAuthMiddleware_ValidTokenSetsPrincipal(t *testing.T) {
	req := require.New(t)
	token := signToken(t, testSecret, "u1", time.Hour)

	p, ok := runAuth(t, "Bearer "+token)
	req.True(ok)
	req.Equal("u1", p.ID)
}

func TestAuthMiddleware_MissingHeaderLeavesAnonymous(t *testing.T) {
	req := require.New(t)
	_, ok := runAuth(t, "")
	req.False(ok)
}

func TestAuthMiddleware_ExpiredTokenIsRejected(t *testing.T) {
	req := require.New(t)
	token := signToken(t, testSecret, "u1", -time.Minute)

	_, ok := runAuth(t, "Bearer "+token)
	req.False(ok)
}

func TestAuthMiddleware_WrongSecretIsRejected(t *testing.T) {
	req := require.New(t)
	token := signToken(t, []byte("other-secret"), "u1", time.Hour)

	_, ok := runAuth(t, "Bearer "+token)
	req.False(ok)
}

func TestAuthMiddleware_SubjectFallback(t *testing.T) {
	req := require.New(t)
	claims := jwt.RegisteredClaims{
		Subject:   "u9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	req.NoError(err)

	p, ok := runAuth(t, "Bearer "+token)
	req.True(ok)
	req.Equal("u9", p.ID)
}
