package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
)

// Headers set by the trusted gateway in front of the API.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorAdmin = "X-Actor-Admin"
	HeaderActorRoles = "X-Actor-Roles"
)

// Actor reads the acting user from gateway headers into the request context.
// Requests without X-Actor-ID are refused: every ledger row names its actor.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if actorID == "" {
			_ = c.Error(apperror.NewForbidden("missing " + HeaderActorID + " header"))
			c.Abort()
			return
		}

		admin, _ := strconv.ParseBool(c.GetHeader(HeaderActorAdmin))
		actor := &appctx.Actor{
			ActorID: actorID,
			Roles:   splitRoles(c.GetHeader(HeaderActorRoles)),
			IsAdmin: admin,
		}

		c.Request = c.Request.WithContext(appctx.WithActor(c.Request.Context(), actor))
		c.Set("actor_id", actorID)
		c.Next()
	}
}

func splitRoles(header string) []string {
	if header == "" {
		return nil
	}
	var roles []string
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
