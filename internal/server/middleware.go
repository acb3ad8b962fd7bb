package server

import (
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/needflow/internal/authorization"
	obscontext "github.com/smallbiznis/needflow/internal/observability/context"
)

const (
	HeaderWorkerID   = "X-Worker-Id"
	HeaderWorkerRole = "X-Worker-Role"
	contextActorKey  = "actor"
)

// ActorRequired resolves the acting worker from request headers. The values
// are trusted as sent; the caller's gateway owns authentication.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID := strings.TrimSpace(c.GetHeader(HeaderWorkerID))
		role := authorization.NormalizeRole(c.GetHeader(HeaderWorkerRole))
		if rawID == "" || role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		workerID, err := snowflake.ParseString(rawID)
		if err != nil || workerID == 0 || !s.knownRole(role) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := authorization.Actor{WorkerID: workerID, Role: role}
		ctx := obscontext.WithActor(c.Request.Context(), string(role), workerID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)

		c.Next()
	}
}

func actorFrom(c *gin.Context) authorization.Actor {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}
	}
	actor, _ := value.(authorization.Actor)
	return actor
}

// knownRole reports whether role sits on the configured ladder. Without an
// authorization service every non-empty role is accepted.
func (s *Server) knownRole(role authorization.Role) bool {
	if s.authz == nil {
		return true
	}
	return slices.Contains(s.authz.Ladder(), role)
}
