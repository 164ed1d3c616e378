package middlewares

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

const (
	headerClientVersion = "X-SFH-Version"
	headerDeviceID      = "X-SFH-Device-Id"
)

// chunkRoute receives one request per chunk of every large file.
const chunkRoute = "/:collection/upload-file"

// Logger writes one access log line per request under the "http" group.
// Health checks and accepted intermediate chunks are left out.
func Logger() gin.HandlerFunc {
	access := slogGin.NewWithConfig(slog.Default().WithGroup("http"), slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		WithUserAgent:    true,
		Filters: []slogGin.Filter{
			slogGin.IgnorePath("/healthz"),
			slogGin.Ignore(successfulChunk),
		},
	})

	return func(ctx *gin.Context) {
		if v := ctx.GetHeader(headerClientVersion); v != "" {
			slogGin.AddCustomAttributes(ctx, slog.String("client_version", v))
		}
		if id := ctx.GetHeader(headerDeviceID); id != "" {
			slogGin.AddCustomAttributes(ctx, slog.String("device_id", id))
		}
		access(ctx)
	}
}

func successfulChunk(ctx *gin.Context) bool {
	return ctx.FullPath() == chunkRoute &&
		ctx.Writer.Status() < http.StatusBadRequest &&
		ctx.GetHeader("Chunk-Index") != "" &&
		ctx.GetHeader("Last-Chunk") != "true"
}
