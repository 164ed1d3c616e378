package middlewares

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/apluslms/static-file-host/internal/server/auth"
	"github.com/apluslms/static-file-host/internal/server/handlers/api"
)

const (
	collectionParam = "collection"
	userContextKey  = "user" // principal stored in the gin context
)

// JWTAuth admits a request only if its bearer token is valid for the
// collection named in the route.
func JWTAuth(authn *auth.Authenticator) gin.HandlerFunc {
	if !authn.IsEnabled() {
		slog.Warn("auth middleware disabled, every collection is writable")
	} else {
		slog.Info("auth middleware enabled")
	}

	return func(ctx *gin.Context) {
		principal, err := authn.Authenticate(ctx.Request.Header, ctx.Param(collectionParam))
		if err != nil {
			api.AbortWithSyncError(ctx, err)
			return
		}

		ctx.Set(userContextKey, principal)
		slogGin.AddCustomAttributes(ctx, slog.String("collection", ctx.Param(collectionParam)))
		ctx.Next()
	}
}

// Principal returns the identity JWTAuth stored for the request.
func Principal(ctx *gin.Context) string {
	return ctx.GetString(userContextKey)
}
