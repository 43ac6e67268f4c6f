package middleware

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

const testSecret = "test-secret"

func signedToken(t *testing.T, role, secret string, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter(roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", JWTAuth(testSecret))
	for _, role := range roles {
		group.Use(RequireRole(role))
	}
	group.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": Subject(c), "admin": IsAdmin(c)})
	})
	return r
}

func doGet(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthValidToken(t *testing.T) {
	w := doGet(authRouter(), signedToken(t, RoleOps, testSecret, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ops@test")
}

func TestJWTAuthMissingToken(t *testing.T) {
	w := doGet(authRouter(), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthWrongSecret(t *testing.T) {
	w := doGet(authRouter(), signedToken(t, RoleOps, "other-secret", time.Hour))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthExpiredToken(t *testing.T) {
	w := doGet(authRouter(), signedToken(t, RoleOps, testSecret, -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRoleMatches(t *testing.T) {
	w := doGet(authRouter(RoleOps), signedToken(t, RoleOps, testSecret, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoleAdminImpliesOps(t *testing.T) {
	w := doGet(authRouter(RoleOps), signedToken(t, RoleAdmin, testSecret, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"admin":true`)
}

func TestRequireRoleRejectsLesserRole(t *testing.T) {
	w := doGet(authRouter(RoleAdmin), signedToken(t, RoleOps, testSecret, time.Hour))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCorrelationIDEchoesCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "corr-123", w.Header().Get("X-Correlation-Id"))
}

func TestCorrelationIDMintsWhenAbsent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, w.Header().Get("X-Correlation-Id"))
}
