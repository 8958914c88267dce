// Package handlers provides the HTTP handlers of the API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// PathID parses a path parameter as an identifier.
func (h *BaseHandler) PathID(c *gin.Context, name string) (id.ID, bool) {
	v, err := id.Parse(name, c.Param(name))
	if err != nil {
		h.Error(c, err)
		return v, false
	}
	return v, true
}

// Error registers err on the gin context and aborts the request.
// The response body is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ActorID returns the acting user of the request.
func (h *BaseHandler) ActorID(c *gin.Context) string {
	return appctx.GetActorID(c.Request.Context())
}

// Created sends a 201 response with body.
func (h *BaseHandler) Created(c *gin.Context, body any) {
	c.JSON(http.StatusCreated, body)
}

// OK sends a 200 response with body.
func (h *BaseHandler) OK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
