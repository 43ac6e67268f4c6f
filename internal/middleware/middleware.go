package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"otabridge/internal/logger"
	"otabridge/internal/models"
)

const (
	// RoleOps may read everything and decide amendments
	RoleOps = "ops"
	// RoleAdmin may additionally bypass validation, trigger cleanup and read raw payloads
	RoleAdmin = "admin"
)

// CORS middleware for the admin surface
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-Id")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}

		c.Next()
	}
}

// CorrelationID propagates the caller's correlation id or mints one
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-Id")
		if id == "" {
			id = logger.NewCorrelationID()
		}
		c.Set("correlation_id", id)
		c.Header("X-Correlation-Id", id)
		c.Request = c.Request.WithContext(logger.ContextWithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

// Logger middleware for structured request logging
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if id, exists := c.Get("correlation_id"); exists {
			logFields = append(logFields, "correlation_id", id)
		}

		if c.Writer.Status() >= 400 {
			if len(c.Errors) > 0 {
				logFields = append(logFields, "error", c.Errors.String())
			}
			slog.Error("Request completed with error", logFields...)
		}
	}
}

// Recovery middleware with detailed panic logging
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		slog.Error("PANIC recovered",
			"panic", recovered,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"client_ip", c.ClientIP(),
		)

		if !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Code:    "internal",
				Message: "Internal server error",
			})
		}
	})
}

// Claims is the admin token payload
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates the bearer token and stores subject and role on the context
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Code: "auth", Message: "Missing bearer token",
			})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Code: "auth", Message: "Invalid token",
			})
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole gates a route group on the token role; admin implies ops
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		have, _ := c.Get("role")
		haveRole, _ := have.(string)
		if haveRole == role || haveRole == RoleAdmin {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{
			Code: "auth", Message: "Insufficient role",
		})
	}
}

// Subject returns the authenticated principal, if any
func Subject(c *gin.Context) string {
	v, _ := c.Get("subject")
	s, _ := v.(string)
	return s
}

// IsAdmin reports whether the request carries the admin role
func IsAdmin(c *gin.Context) bool {
	v, _ := c.Get("role")
	s, _ := v.(string)
	return s == RoleAdmin
}
