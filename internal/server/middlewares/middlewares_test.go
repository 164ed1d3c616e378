package middlewares

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ping(ctx *gin.Context) {
	ctx.String(http.StatusOK, "pong")
}

func TestRateLimiter_PerCollection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, err := RateLimiter("1-M")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/:collection/ping", limiter, ping)

	get := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/course-a/ping"))
	assert.Equal(t, http.StatusTooManyRequests, get("/course-a/ping"))
	assert.Equal(t, http.StatusOK, get("/course-b/ping"))
}

func TestRateLimiter_BadRate(t *testing.T) {
	_, err := RateLimiter("lots")
	assert.Error(t, err)
}

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/upload", BodyLimit(8), func(ctx *gin.Context) {
		if _, err := ctx.GetRawData(); err != nil {
			ctx.Status(http.StatusRequestEntityTooLarge)
			return
		}
		ctx.Status(http.StatusOK)
	})

	post := func(body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body)))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, post("12345678"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, post("123456789"))
}

func TestSecure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Secure(false), ping)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestSecure_TLSRedirectsPlainHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Secure(true), ping)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://static.example.org/", nil))
	assert.Equal(t, http.StatusMovedPermanently, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://static.example.org/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestGZIP_CompressesListingsOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GZIP())
	body := strings.Repeat(`{"index.html":{"mtime":1}}`, 64)
	r.GET("/:collection/manifest", func(ctx *gin.Context) { ctx.String(http.StatusOK, body) })
	r.POST("/:collection/upload-file", func(ctx *gin.Context) { ctx.String(http.StatusOK, body) })

	do := func(method, path, encoding string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		if encoding != "" {
			req.Header.Set("Accept-Encoding", encoding)
		}
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/course/manifest", "gzip, deflate")
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Less(t, w.Body.Len(), len(body))

	w = do(http.MethodGet, "/course/manifest", "")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, body, w.Body.String())

	w = do(http.MethodPost, "/course/upload-file", "gzip")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, body, w.Body.String())
}

func TestLogger_SkipsIntermediateChunks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := gin.New()
	r.Use(Logger())
	r.GET("/healthz", ping)
	r.POST("/:collection/upload-file", ping)

	send := func(method, path string, headers map[string]string) {
		req := httptest.NewRequest(method, path, nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	lines := func() int { return strings.Count(buf.String(), "\n") }

	send(http.MethodGet, "/healthz", nil)
	assert.Equal(t, 0, lines())

	send(http.MethodPost, "/course/upload-file", map[string]string{"Chunk-Index": "0", "Last-Chunk": "false"})
	assert.Equal(t, 0, lines())

	send(http.MethodPost, "/course/upload-file", map[string]string{
		"Chunk-Index":  "1",
		"Last-Chunk":   "true",
		headerDeviceID: "dev-1",
	})
	assert.Equal(t, 1, lines())
	assert.Contains(t, buf.String(), `"device_id":"dev-1"`)

	send(http.MethodPost, "/course/upload-file", nil)
	assert.Equal(t, 2, lines())
}
