package publish

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server/handlers/api"
	"github.com/apluslms/static-file-host/internal/server/publish"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/version"
)

type PublishHandler struct {
	svc          *publish.PublishService
	maxChunkSize int64
}

func New(svc *publish.PublishService, maxChunkSize int64) *PublishHandler {
	return &PublishHandler{svc: svc, maxChunkSize: maxChunkSize}
}

// GetFilesToUpdate diffs the posted client manifest against the published
// one and opens an upload session.
func (h *PublishHandler) GetFilesToUpdate(ctx *gin.Context) {
	collection := ctx.Param("collection")

	raw, err := manifestPayload(ctx)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeManifestInvalid, err)
		return
	}

	client, err := manifest.Decode(bytes.NewReader(raw))
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	res, err := h.svc.Diff(ctx.Request.Context(), collection, client)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, res)
}

// manifestPayload reads the manifest from the multipart field, either as a
// plain value or as an attached file, or from a JSON request body.
func manifestPayload(ctx *gin.Context) ([]byte, error) {
	if strings.HasPrefix(ctx.ContentType(), "application/json") {
		return io.ReadAll(ctx.Request.Body)
	}

	if value, ok := ctx.GetPostForm(FieldManifest); ok {
		return []byte(value), nil
	}

	fh, err := ctx.FormFile(FieldManifest)
	if err != nil {
		return nil, fmt.Errorf("missing form field %q", FieldManifest)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Finalize publishes a completed session. Parameters come from a JSON body
// or from the query string.
func (h *PublishHandler) Finalize(ctx *gin.Context) {
	var req FinalizeRequest
	if ctx.Request.ContentLength != 0 {
		if err := json.NewDecoder(ctx.Request.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid finalize body: %w", err))
			return
		}
	}
	if req.ProcessID == "" {
		req.ProcessID = ctx.Query(FieldProcessID)
	}
	indexMtime := req.indexMtime()
	if indexMtime == "" {
		indexMtime = ctx.Query(FieldIndexTime)
	}

	ref, err := sessionRef(ctx.Param("collection"), req.ProcessID, indexMtime)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	res, err := h.svc.Finalize(ctx.Request.Context(), ref)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &FinalizeResponse{
		Message:      fmt.Sprintf("collection %s published", res.Collection),
		Files:        res.Files,
		Uploaded:     res.Uploaded,
		Removed:      res.Removed,
		IndexModTime: res.IndexModTime,
	})
}

func (h *PublishHandler) Manifest(ctx *gin.Context) {
	m, err := h.svc.Manifest(ctx.Param("collection"))
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, m)
}

func (h *PublishHandler) ListCollections(ctx *gin.Context) {
	names, err := h.svc.Collections()
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &CollectionsResponse{
		Version:     version.Short(),
		Collections: names,
	})
}

func (h *PublishHandler) DeleteCollection(ctx *gin.Context) {
	collection := ctx.Param("collection")
	if err := h.svc.DeleteCollection(ctx.Request.Context(), collection); err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &MessageResponse{Message: fmt.Sprintf("collection %s deleted", collection)})
}

func (h *PublishHandler) DeleteFile(ctx *gin.Context) {
	collection := ctx.Param("collection")
	path := strings.TrimPrefix(ctx.Param("path"), "/")
	if err := h.svc.DeleteFile(ctx.Request.Context(), collection, path); err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &MessageResponse{Message: fmt.Sprintf("%s deleted from %s", path, collection)})
}

func errMissing(name string) error {
	return syncerr.Errorf(syncerr.KindProtocol, "upload", "missing %s", name)
}
