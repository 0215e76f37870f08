package middleware

import (
	"context"
	"strings"

	"parley/internal/services"
	"parley/pkg/logger"

	"github.com/gin-gonic/gin"
)

// IdentityResolver is implemented by services.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, req services.ResolveRequest) (services.Resolution, error)
}

type IdentityOptions struct {
	// LegacyCookieName names the pre-token participant cookie. Empty disables it.
	LegacyCookieName string
}

// IdentityMiddleware resolves the caller to a participant of the requested
// conversation and stores the result on the request context. Handlers read it
// with services.ResolutionFromContext.
func IdentityMiddleware(resolver IdentityResolver, opts IdentityOptions, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := services.ResolveRequest{
			ConversationID: c.Query("conversation_id"),
			BearerToken:    extractBearer(c),
			XID:            c.Query("xid"),
		}
		if opts.LegacyCookieName != "" {
			if cookie, err := c.Cookie(opts.LegacyCookieName); err == nil {
				req.LegacyCookie = cookie
			}
		}

		res, err := resolver.Resolve(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, l, err)
			return
		}

		ctx := services.WithResolution(c.Request.Context(), res)
		ctx = logger.WithIdentity(ctx, res.Identity.UID, res.Identity.PID, res.Identity.ZID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
