package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"phantomrecorder/backend/pkg/auth"
	"phantomrecorder/backend/pkg/response"
)

const ClientKey = "client"

// AuthMiddleware requires a bearer token issued by issuer in the
// Authorization header.
func AuthMiddleware(issuer *auth.Issuer) gin.HandlerFunc {
	return authenticate(issuer, false)
}

// StreamAuthMiddleware is AuthMiddleware for WebSocket upgrades. Browsers
// cannot set headers there, so the token query parameter is accepted too.
func StreamAuthMiddleware(issuer *auth.Issuer) gin.HandlerFunc {
	return authenticate(issuer, true)
}

func authenticate(issuer *auth.Issuer, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if allowQuery {
			token = c.Query("token")
		}
		if header := c.GetHeader("Authorization"); header != "" {
			var ok bool
			token, ok = strings.CutPrefix(header, "Bearer ")
			if !ok {
				response.Unauthorized(c, "authorization header must use the Bearer scheme")
				return
			}
		}
		if token == "" {
			response.Unauthorized(c, "missing token")
			return
		}

		claims, err := issuer.ParseToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ClientKey, claims.Client)
		c.Next()
	}
}
