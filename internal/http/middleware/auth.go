// README: Firebase bearer-token auth middleware.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hail/internal/infra"
	"hail/internal/types"
)

const (
	ctxUIDKey  = "auth_uid"
	ctxRoleKey = "auth_role"
)

// Auth verifies the Authorization bearer token and stores the caller's uid
// and role claim on the request context. Handlers never see raw tokens.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization must be a bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUIDKey, token.UID)
		if role := token.Role(); role != "" {
			c.Set(ctxRoleKey, role)
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUIDKey)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRoleKey)
}

// CallerActor maps the verified token onto the domain actor. An absent or
// unknown role claim is treated as a plain passenger.
func CallerActor(c *gin.Context) types.Actor {
	actor := types.Actor{ID: types.ID(CallerUID(c))}
	switch types.Role(CallerRole(c)) {
	case types.RoleDriver:
		actor.Role = types.RoleDriver
	case types.RoleAdmin:
		actor.Role = types.RoleAdmin
	case types.RoleSuperAdmin:
		actor.Role = types.RoleSuperAdmin
	default:
		actor.Role = types.RolePassenger
	}
	return actor
}

// RequireRole gates a route group to the listed roles.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := types.Role(CallerRole(c))
		for _, r := range roles {
			if caller == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}
