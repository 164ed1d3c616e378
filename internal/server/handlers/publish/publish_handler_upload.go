package publish

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server/handlers/api"
	"github.com/apluslms/static-file-host/internal/server/staging"
	"github.com/apluslms/static-file-host/internal/syncerr"
)

// UploadFile receives either one chunk of a large compressed file
// (application/octet-stream plus chunk headers) or a whole compressed
// archive (multipart/form-data).
func (h *PublishHandler) UploadFile(ctx *gin.Context) {
	switch ct := ctx.ContentType(); {
	case ct == "application/octet-stream":
		h.uploadChunk(ctx)
	case strings.HasPrefix(ct, "multipart/form-data"):
		h.uploadArchive(ctx)
	default:
		api.AbortWithError(ctx, http.StatusUnsupportedMediaType, api.CodeInvalidRequest,
			syncerr.Errorf(syncerr.KindProtocol, "upload", "unsupported content type %q", ct))
	}
}

func (h *PublishHandler) uploadChunk(ctx *gin.Context) {
	ref, err := sessionRef(ctx.Param("collection"), ctx.GetHeader(HeaderProcessID), ctx.GetHeader(HeaderIndexMtime))
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	chunk, err := h.chunkHeaders(ctx.Request.Header)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	body := http.MaxBytesReader(ctx.Writer, ctx.Request.Body, chunk.ChunkSize+1)
	receipt, err := h.svc.UploadChunk(ctx.Request.Context(), ref, chunk, body)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, uploadResponse(receipt))
}

func (h *PublishHandler) chunkHeaders(header http.Header) (staging.Chunk, error) {
	chunk := staging.Chunk{Offset: -1}

	size, err := intHeader(header, HeaderChunkSize)
	if err != nil {
		return chunk, err
	}
	if size <= 0 || size > h.maxChunkSize {
		return chunk, syncerr.Errorf(syncerr.KindProtocol, "upload",
			"%s %d outside 1..%d", HeaderChunkSize, size, h.maxChunkSize)
	}
	chunk.ChunkSize = size

	index, err := intHeader(header, HeaderChunkIndex)
	if err != nil {
		return chunk, err
	}
	chunk.ChunkIndex = int(index)

	fileIndex, err := intHeader(header, HeaderFileIndex)
	if err != nil {
		return chunk, err
	}
	chunk.FileIndex = int(fileIndex)

	if header.Get(HeaderChunkOffset) != "" {
		if chunk.Offset, err = intHeader(header, HeaderChunkOffset); err != nil {
			return chunk, err
		}
	}

	chunk.Last = flag(header.Get(HeaderLastChunk))
	chunk.LastFile = flag(header.Get(HeaderLastFile))
	return chunk, nil
}

func (h *PublishHandler) uploadArchive(ctx *gin.Context) {
	ref, err := sessionRef(ctx.Param("collection"), ctx.PostForm(FieldProcessID), ctx.PostForm(FieldIndexTime))
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	fileIndex := -1
	if v := ctx.PostForm(FieldFileIndex); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			api.AbortWithSyncError(ctx, syncerr.Errorf(syncerr.KindProtocol, "upload", "invalid %s %q", FieldFileIndex, v))
			return
		}
		fileIndex = n
	}

	fh, err := ctx.FormFile(FieldFile)
	if err != nil {
		api.AbortWithSyncError(ctx, errMissing("form file "+FieldFile))
		return
	}
	f, err := fh.Open()
	if err != nil {
		api.AbortWithSyncError(ctx, syncerr.E(syncerr.KindUpload, "upload", err))
		return
	}
	defer f.Close()

	receipt, err := h.svc.UploadArchive(ctx.Request.Context(), ref, fileIndex, f, flag(ctx.PostForm(FieldLastFile)))
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, uploadResponse(receipt))
}

func uploadResponse(receipt *staging.Receipt) *UploadResponse {
	if receipt.Completed {
		return &UploadResponse{Status: StatusCompleted}
	}
	return &UploadResponse{Status: StatusSuccess}
}

// sessionRef builds the session reference carried by upload and finalize
// requests. index mtime is optional; when given it must parse.
func sessionRef(collection, processID, indexMtime string) (staging.Ref, error) {
	ref := staging.Ref{Collection: collection, SessionID: strings.TrimSpace(processID)}
	if ref.SessionID == "" {
		return ref, errMissing("process id")
	}
	if strings.TrimSpace(indexMtime) != "" {
		t, err := manifest.ParseModTime(indexMtime)
		if err != nil {
			return ref, syncerr.E(syncerr.KindProtocol, "upload", err)
		}
		ref.IndexModTime = t
		ref.HasIndexTime = true
	}
	return ref, nil
}

func intHeader(header http.Header, name string) (int64, error) {
	v := strings.TrimSpace(header.Get(name))
	if v == "" {
		return 0, errMissing(name + " header")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, syncerr.Errorf(syncerr.KindProtocol, "upload", "invalid %s header %q", name, v)
	}
	return n, nil
}

// flag treats any value other than an explicit false as set.
func flag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no":
		return false
	default:
		return true
	}
}
