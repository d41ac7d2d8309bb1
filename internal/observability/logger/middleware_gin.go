package logger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/spendledger/internal/observability/context"
	"github.com/smallbiznis/spendledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	headerRequestID     = "X-Request-Id"
	headerCorrelationID = "X-Correlation-Id"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier returns the error type and code logged for a failed request.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware attaches request and correlation ids to the request context
// and writes one access log line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(requestContext(c))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := accessFields(c, route, status, time.Since(start))

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

		log := FromContext(c.Request.Context())
		if ce := log.Check(accessLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestContext(c *gin.Context) context.Context {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(headerRequestID, requestID)

	ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
	if cid := strings.TrimSpace(c.GetHeader(headerCorrelationID)); cid != "" {
		ctx = correlation.ContextWithCorrelationID(ctx, cid)
		c.Header(headerCorrelationID, cid)
	}
	return obscontext.WithActor(ctx, "api", c.ClientIP())
}

func accessFields(c *gin.Context, route string, status int, elapsed time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
		zap.Int("bytes_out", max(c.Writer.Size(), 0)),
	}
	if entityType := c.Param("entity_type"); entityType != "" {
		fields = append(fields, zap.String("entity_type", entityType))
	}
	if id := c.Param("id"); id != "" {
		fields = append(fields, zap.String("entity_id", id))
	}
	if date := c.Param("date"); date != "" {
		fields = append(fields, zap.String("spending_date", date))
	}
	return fields
}

// accessLevel keeps health checks and rejected spend writes out of the info stream
// and raises drift and partial batches to warn.
func accessLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zap.DebugLevel
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case status == http.StatusConflict, status == http.StatusMultiStatus:
		return zap.WarnLevel
	case strings.HasSuffix(route, "/spending/:date") && errorType == "invalid_input":
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}
