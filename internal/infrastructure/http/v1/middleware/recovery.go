// Package middleware provides the gin middleware of the API.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"osiris/internal/core/apperror"
	"osiris/pkg/logger"
)

// Recovery turns a panic into a 500. The stack goes to the log only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
				)

				_ = c.Error(
					apperror.NewInternal(fmt.Errorf("panic: %v", err)).
						WithDetail("request_id", c.GetString("request_id")),
				)
				c.Abort()
				if !c.Writer.Written() {
					WriteError(c, c.Errors.Last().Err)
				}
			}
		}()
		c.Next()
	}
}
