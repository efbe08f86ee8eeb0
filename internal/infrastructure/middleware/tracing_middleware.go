package middleware

import (
	"castmix/pkg/logger"
	"castmix/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// TracingMiddleware spans each control API request, continuing a trace
// propagated by the caller. It must run after RequestIDMiddleware for the
// span to carry the request ID.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracing.TraceHTTPRequest(parent, c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if id := logger.RequestID(c.Request.Context()); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if status >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		}
	}
}
