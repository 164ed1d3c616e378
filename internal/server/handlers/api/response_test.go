package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apluslms/static-file-host/internal/syncerr"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"auth", syncerr.Errorf(syncerr.KindAuth, "op", "bad token"), http.StatusUnauthorized, CodeAuthInvalidCredentials},
		{"access denied", syncerr.E(syncerr.KindAuth, "op", syncerr.ErrAccessDenied), http.StatusForbidden, CodeAccessDenied},
		{"manifest", syncerr.Errorf(syncerr.KindManifest, "op", "x"), http.StatusBadRequest, CodeManifestInvalid},
		{"stale", syncerr.Errorf(syncerr.KindStaleVersion, "op", "x"), http.StatusConflict, CodeStaleVersion},
		{"protocol", syncerr.Errorf(syncerr.KindProtocol, "op", "x"), http.StatusBadRequest, CodeProtocol},
		{"incomplete", syncerr.E(syncerr.KindProtocol, "op", syncerr.ErrUploadIncomplete), http.StatusConflict, CodeUploadIncomplete},
		{"concurrency", syncerr.Errorf(syncerr.KindConcurrency, "op", "x"), http.StatusLocked, CodeConcurrency},
		{"extraction", syncerr.Errorf(syncerr.KindExtraction, "op", "x"), http.StatusUnprocessableEntity, CodeExtractionFailed},
		{"commit", syncerr.Errorf(syncerr.KindCommit, "op", "x"), http.StatusInternalServerError, CodeCommitFailed},
		{"not found", syncerr.Errorf(syncerr.KindNotFound, "op", "x"), http.StatusNotFound, CodeNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := StatusOf(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestAbortWithSyncError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)

	AbortWithSyncError(ctx, syncerr.Errorf(syncerr.KindStaleVersion, "diff", "too old"))

	assert.True(t, ctx.IsAborted())
	assert.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, ctx.Errors, 1)
	assert.JSONEq(t, `{"code":"E_STALE_VERSION","error":"diff: stale version error: too old"}`, w.Body.String())
}

func TestAbort_DoesNotRecordError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)

	Abort(ctx, http.StatusNotFound, CodeNotFound, "no <such> page")

	assert.True(t, ctx.IsAborted())
	assert.Empty(t, ctx.Errors)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":"E_NOT_FOUND","error":"no <such> page"}`, w.Body.String())
	assert.Contains(t, w.Body.String(), "<such>")
}
