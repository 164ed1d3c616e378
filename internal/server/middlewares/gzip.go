package middlewares

import (
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// compressedRoutes return manifests or listings that grow with the site.
// Upload routes answer with a status word and are left alone.
var compressedRoutes = map[string]struct{}{
	"/":                                {},
	"/:collection/get-files-to-update": {},
	"/:collection/manifest":            {},
}

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(gzip.BestSpeed, gzip.WithCustomShouldCompressFn(shouldCompress))
}

func shouldCompress(ctx *gin.Context) bool {
	if !strings.Contains(ctx.GetHeader("Accept-Encoding"), "gzip") {
		return false
	}
	_, ok := compressedRoutes[ctx.FullPath()]
	return ok
}
