package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apluslms/static-file-host/internal/server/handlers/api"
	"github.com/apluslms/static-file-host/internal/server/handlers/publish"
	"github.com/apluslms/static-file-host/internal/server/middlewares"
	"github.com/apluslms/static-file-host/internal/version"
)

func SetupRoutes(config *Config, svc *Services) (http.Handler, error) {
	chunkLimit, err := config.HTTP.ChunkLimit()
	if err != nil {
		return nil, err
	}
	uploadLimit, err := config.HTTP.UploadLimit()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB, larger parts spill to disk

	publishH := publish.New(svc.Publish, chunkLimit)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS(config.HTTP.CORSOrigins))
	r.Use(middlewares.Secure(config.HTTP.TLSEnabled()))

	r.GET("/", publishH.ListCollections)
	r.GET("/healthz", HealthHandler)
	r.GET("/version", IndexHandler)

	col := r.Group("/:collection")
	if config.HTTP.RateLimit != "" {
		limiter, err := middlewares.RateLimiter(config.HTTP.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		col.Use(limiter)
	}
	col.Use(middlewares.JWTAuth(svc.Auth))
	{
		col.POST("/get-files-to-update", publishH.GetFilesToUpdate)
		col.POST("/upload-file", middlewares.BodyLimit(uploadLimit), publishH.UploadFile)
		col.GET("/upload-finalizer", publishH.Finalize)
		col.POST("/upload-finalizer", publishH.Finalize)

		col.GET("/manifest", publishH.Manifest)
		col.DELETE("", publishH.DeleteCollection)
		col.DELETE("/files/*path", publishH.DeleteFile)
	}

	r.NoRoute(func(c *gin.Context) {
		api.Abort(c, http.StatusNotFound, api.CodeNotFound, "not found")
	})

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		api.Abort(c, http.StatusMethodNotAllowed, api.CodeInvalidRequest, "method not allowed")
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
