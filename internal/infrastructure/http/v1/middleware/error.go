package middleware

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/core/apperror"
	"osiris/pkg/logger"
)

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler renders the last error registered by a handler.
// Internal causes are logged, never returned to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		WriteError(c, c.Errors.Last().Err)
	}
}

// WriteError renders err as an ErrorBody with the status of its code.
func WriteError(c *gin.Context, err error) {
	appErr, ok := apperror.AsAppError(err)
	if !ok {
		logger.Error(c.Request.Context(), "unhandled error", "error", err)
		appErr = apperror.NewInternal(err)
	}
	if appErr.Err != nil {
		logger.Error(c.Request.Context(), "request error",
			"code", appErr.Code,
			"cause", appErr.Err,
		)
	}

	details := appErr.Details
	if appErr.Code == apperror.CodeInternal {
		details = map[string]any{"request_id": c.GetString("request_id")}
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus, ErrorBody{Error: ErrorPayload{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: details,
	}})
}
