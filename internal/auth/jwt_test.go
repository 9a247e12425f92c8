package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func token(t *testing.T, v *Verifier, c Claims) string {
	t.Helper()
	s, err := v.Sign(c)
	require.NoError(t, err)
	return s
}

func router(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})
	r.GET("/", handlers...)
	return r
}

func do(r *gin.Engine, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequired(t *testing.T) {
	v := NewVerifier("s3cret")
	r := router(v.Required())
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	w := do(r, "Bearer "+token(t, v, Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Token abc").Code)

	other := NewVerifier("other")
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer "+token(t, other, Claims{UserID: "u-1"})).Code)

	expired := jwt.NewNumericDate(time.Now().Add(-time.Minute))
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer "+token(t, v, Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: expired}})).Code)

	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer "+token(t, v, Claims{Email: "x@example.com"})).Code, "user_id required")
}

func TestOptional(t *testing.T) {
	v := NewVerifier("s3cret")
	r := router(v.Optional())

	w := do(r, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(r, "Bearer "+token(t, v, Claims{UserID: "u-2"}))
	assert.Equal(t, "u-2", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer garbage").Code)
}

func TestRequireRole(t *testing.T) {
	v := NewVerifier("s3cret")
	r := router(v.Required(), RequireRole(RoleAdmin))

	assert.Equal(t, http.StatusForbidden, do(r, "Bearer "+token(t, v, Claims{UserID: "u-1"})).Code)
	assert.Equal(t, http.StatusOK, do(r, "Bearer "+token(t, v, Claims{UserID: "u-1", Role: RoleAdmin})).Code)
}
