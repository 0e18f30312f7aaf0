package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/promptrelay/internal/identity"
	"github.com/goodtune/promptrelay/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxKeyRequestID = "request_id"
	ctxKeyClientID  = "client_id"
)

// RequestIDMiddleware keeps a caller-supplied X-Request-ID or assigns one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := strings.TrimSpace(ctx.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		ctx.Set(ctxKeyRequestID, id)
		ctx.Writer.Header().Set(requestIDHeader, id)
		ctx.Next()
	}
}

// ClientIdentityMiddleware resolves the quota identity once per request.
func ClientIdentityMiddleware(header string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set(ctxKeyClientID, identity.Resolve(ctx.Request, header))
		ctx.Next()
	}
}

func clientID(ctx *gin.Context) string {
	if id := ctx.GetString(ctxKeyClientID); id != "" {
		return id
	}
	return identity.Unknown
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(ctx.Writer.Status())).Inc()
		metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// LoggingMiddleware creates Gin middleware for request logging.
func LoggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// Process request
		ctx.Next()

		// Log after processing
		logger.Info().
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Str("client", clientID(ctx)).
			Str("remote_addr", ctx.Request.RemoteAddr).
			Int("status", ctx.Writer.Status()).
			Int("size", ctx.Writer.Size()).
			Dur("duration", time.Since(start)).
			Str("request_id", ctx.GetString(ctxKeyRequestID)).
			Msg("API request")
	}
}

// CORSMiddleware creates Gin middleware for CORS support.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		origin := ctx.GetHeader("Origin")

		// Check if origin is allowed; credentials only for origins listed by name
		allowed, explicit := false, false
		for _, allowedOrigin := range allowedOrigins {
			if allowedOrigin == origin {
				allowed, explicit = true, true
				break
			}
			if allowedOrigin == "*" {
				allowed = true
			}
		}

		if allowed && origin != "" {
			h := ctx.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if requested := ctx.GetHeader("Access-Control-Request-Headers"); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			} else {
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			}
			if explicit {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Expose-Headers", requestIDHeader)
		}

		// Handle preflight requests
		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}

		ctx.Next()
	}
}

// RecoveryMiddleware turns a handler panic into a logged 500 response.
func RecoveryMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(ctx *gin.Context, recovered any) {
		logger.Error().
			Interface("panic", recovered).
			Str("path", ctx.Request.URL.Path).
			Str("request_id", ctx.GetString(ctxKeyRequestID)).
			Msg("Handler panic")
		abortWithError(ctx, fmt.Errorf("%v", recovered))
	})
}
