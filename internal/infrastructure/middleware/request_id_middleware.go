package middleware

import (
	"time"

	"castmix/pkg/logger"
	"castmix/pkg/utils"

	"github.com/gin-gonic/gin"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an ID, reusing the caller's
// X-Request-ID when present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = utils.GenerateRequestID()
		}
		c.Set("request_id", id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLogMiddleware writes one structured line per request.
func AccessLogMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
