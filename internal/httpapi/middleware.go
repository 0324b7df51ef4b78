package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader carries the per-request correlation identifier.
	RequestIDHeader = "X-Request-ID"

	requestIDContextKey = "request_id"
	bearerPrefix        = "Bearer "
	requestIDMaxLength  = 64
	errorValueAdminOff  = "admin_disabled"
	errorValueNoBearer  = "missing_bearer"
	errorValueBadBearer = "forbidden"
)

// RequestLogger logs one structured line per request and tags the response
// with a request identifier, reusing a caller-supplied one when present.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(context.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > requestIDMaxLength {
			requestID = uuid.NewString()
		}
		context.Set(requestIDContextKey, requestID)
		context.Header(RequestIDHeader, requestID)

		context.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", context.ClientIP()),
		}
		if len(context.Errors) > 0 {
			fields = append(fields, zap.String("errors", context.Errors.String()))
		}
		if context.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http_request", fields...)
			return
		}
		logger.Info("http_request", fields...)
	}
}

// AdminAuthMiddleware admits requests carrying the configured bearer token.
// An empty token disables the admin surface entirely.
func AdminAuthMiddleware(adminBearerToken string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(adminBearerToken))
	return func(context *gin.Context) {
		if len(expected) == 0 {
			context.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueAdminOff})
			return
		}
		authorizationHeader := strings.TrimSpace(context.GetHeader("Authorization"))
		if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueNoBearer})
			return
		}
		provided := []byte(strings.TrimSpace(strings.TrimPrefix(authorizationHeader, bearerPrefix)))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: errorValueBadBearer})
			return
		}
		context.Next()
	}
}
