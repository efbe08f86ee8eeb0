package middleware

import (
	"net/http"

	"castmix/pkg/errors"
	"castmix/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		requestID := logger.RequestID(c.Request.Context())

		appErr := errors.GetAppError(err)
		if appErr != nil {
			log.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", requestID,
				"context", appErr.Context,
			)

			body := gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			}
			if len(appErr.Context) > 0 {
				body["details"] = appErr.Context
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		log.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"request_id", requestID,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", logger.RequestID(c.Request.Context()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
