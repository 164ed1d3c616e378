package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apluslms/static-file-host/internal/syncerr"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// Abort ends the request with a fixed message that is not an error worth
// recording on the context.
func Abort(ctx *gin.Context, status int, code, message string) {
	ctx.Abort()
	ctx.PureJSON(status, ErrorBody{Code: code, Message: message})
}

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Error(err)
	Abort(ctx, status, code, err.Error())
}

// AbortWithSyncError responds with the status and code for err's kind.
func AbortWithSyncError(ctx *gin.Context, err error) {
	status, code := StatusOf(err)
	AbortWithError(ctx, status, code, err)
}

// StatusOf maps an error to its HTTP status and API code.
func StatusOf(err error) (int, string) {
	switch syncerr.KindOf(err) {
	case syncerr.KindAuth:
		if errors.Is(err, syncerr.ErrAccessDenied) {
			return http.StatusForbidden, CodeAccessDenied
		}
		return http.StatusUnauthorized, CodeAuthInvalidCredentials
	case syncerr.KindManifest:
		return http.StatusBadRequest, CodeManifestInvalid
	case syncerr.KindStaleVersion:
		return http.StatusConflict, CodeStaleVersion
	case syncerr.KindProtocol:
		if errors.Is(err, syncerr.ErrUploadIncomplete) {
			return http.StatusConflict, CodeUploadIncomplete
		}
		return http.StatusBadRequest, CodeProtocol
	case syncerr.KindUpload:
		return http.StatusBadRequest, CodeUploadFailed
	case syncerr.KindConcurrency:
		return http.StatusLocked, CodeConcurrency
	case syncerr.KindExtraction:
		return http.StatusUnprocessableEntity, CodeExtractionFailed
	case syncerr.KindCommit:
		return http.StatusInternalServerError, CodeCommitFailed
	case syncerr.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case syncerr.KindTraversal:
		return http.StatusBadRequest, CodeInvalidRequest
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}
