package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/needflow/internal/observability/context"
	"github.com/smallbiznis/needflow/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to the type and code written on
	// the access log line.
	ErrorClassifier func(err error) (string, string)
}

// routeEntities names the id-bearing route segments the access log records.
var routeEntities = map[string]string{
	"needs":        "need_id",
	"batches":      "batch_id",
	"supply_items": "supply_item_id",
}

// GinMiddleware stamps request and correlation ids on the request context and
// writes one access log line per request once the handlers have run.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithIPAddress(ctx, c.ClientIP())
		ctx = obscontext.WithUserAgent(ctx, c.Request.UserAgent())
		ctx = correlation.ContextWithCorrelationID(ctx, c.GetHeader(correlation.HeaderName))
		ctx, correlationID := correlation.EnsureCorrelationID(ctx)
		c.Header(correlation.HeaderName, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if key, id := routeEntity(route, c.Param("id")); key != "" {
			fields = append(fields, zap.String(key, id))
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		FromContext(c.Request.Context()).Log(accessLevel(route, status, errorType), "http_request", fields...)
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

// routeEntity turns "/api/batches/:id/approve" plus its id into ("batch_id", id).
func routeEntity(route, id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ""
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	for i, segment := range segments {
		if segment == ":id" && i > 0 {
			if key, ok := routeEntities[segments[i-1]]; ok {
				return key, id
			}
		}
	}
	return "resource_id", id
}

func accessLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case strings.EqualFold(route, "/metrics"), strings.EqualFold(route, "/health"):
		return zap.DebugLevel
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case status >= http.StatusBadRequest && errorType != "validation_error":
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}
