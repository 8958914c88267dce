package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "osiris/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Trace puts a TraceContext into the request context. An upstream
// X-Request-ID is kept so gateway and engine logs can be joined.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		trace := appctx.NewTraceContext(c.GetHeader(HeaderRequestID))
		if upstream := c.GetHeader(HeaderTraceID); upstream != "" {
			trace.TraceID = upstream
		}

		c.Request = c.Request.WithContext(appctx.WithTrace(c.Request.Context(), trace))
		c.Set("request_id", trace.RequestID)

		c.Header(HeaderRequestID, trace.RequestID)
		c.Header(HeaderTraceID, trace.TraceID)

		c.Next()
	}
}
