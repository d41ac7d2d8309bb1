package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/spendledger/internal/errs"
	obscontext "github.com/smallbiznis/spendledger/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware instruments inbound HTTP requests.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("spendledger/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(SafeAttributes(
			attribute.String("request_id", obscontext.RequestIDFromContext(ctx)),
			attribute.String("correlation_id", obscontext.CorrelationIDFromContext(ctx)),
		)...)

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)

		if lastErr := c.Errors.Last(); lastErr != nil {
			span.SetAttributes(attribute.String("error.kind", string(errs.KindOf(lastErr.Err))))
			if c.Writer.Status() >= http.StatusInternalServerError {
				span.RecordError(SafeError(lastErr.Err))
				span.SetStatus(codes.Error, "request error")
			}
		}
		span.End()
	}
}
