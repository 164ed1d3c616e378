package transfersdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"

	"github.com/apluslms/static-file-host/internal/syncerr"
)

var (
	ErrNoServerURL      = errors.New("sdk: server url missing")
	ErrInvalidServerURL = errors.New("sdk: invalid server url")
	ErrNoCollection     = errors.New("sdk: collection missing")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeAccessDenied   = "E_ACCESS_DENIED"
	CodeNotFound       = "E_NOT_FOUND"

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"

	// Publish errors
	CodeManifestInvalid  = "E_MANIFEST_INVALID"
	CodeStaleVersion     = "E_STALE_VERSION"
	CodeProtocol         = "E_PROTOCOL"
	CodeUploadIncomplete = "E_UPLOAD_INCOMPLETE"
	CodeUploadFailed     = "E_UPLOAD_FAILED"
	CodeConcurrency      = "E_CONCURRENCY"
	CodeExtractionFailed = "E_EXTRACTION_FAILED"
	CodeCommitFailed     = "E_COMMIT_FAILED"
)

// APIError is the error body returned by the server.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Kind maps the server error code back to the error kind it was raised with.
func (e *APIError) Kind() syncerr.Kind {
	switch e.Code {
	case CodeAuthInvalidCredentials, CodeAccessDenied:
		return syncerr.KindAuth
	case CodeManifestInvalid:
		return syncerr.KindManifest
	case CodeStaleVersion:
		return syncerr.KindStaleVersion
	case CodeProtocol, CodeUploadIncomplete, CodeInvalidRequest:
		return syncerr.KindProtocol
	case CodeUploadFailed:
		return syncerr.KindUpload
	case CodeConcurrency, CodeRateLimited:
		return syncerr.KindConcurrency
	case CodeExtractionFailed:
		return syncerr.KindExtraction
	case CodeCommitFailed:
		return syncerr.KindCommit
	case CodeNotFound:
		return syncerr.KindNotFound
	}
	return kindOfStatus(e.StatusCode)
}

func kindOfStatus(status int) syncerr.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return syncerr.KindAuth
	case http.StatusConflict:
		return syncerr.KindStaleVersion
	case http.StatusNotFound:
		return syncerr.KindNotFound
	case http.StatusLocked, http.StatusTooManyRequests:
		return syncerr.KindConcurrency
	default:
		return syncerr.KindUnknown
	}
}

// handleAPIError turns a failed request into a classified error. With
// upload set every failure is an upload error; the *APIError stays in the chain.
func handleAPIError(resp *req.Response, requestErr error, op string, upload bool) error {
	// an error status with an undecodable body still carries the status
	if resp == nil || resp.Response == nil || (requestErr != nil && !resp.IsErrorState()) {
		if requestErr == nil {
			requestErr = errors.New("no response")
		}
		if upload {
			return syncerr.E(syncerr.KindUpload, op, requestErr)
		}
		return fmt.Errorf("http request error: %s: %w", op, requestErr)
	}

	if !resp.IsErrorState() {
		return nil
	}

	apiErr, ok := resp.ErrorResult().(*APIError)
	if !ok || apiErr == nil || apiErr.Code == "" {
		apiErr = &APIError{Code: "", Message: resp.Status}
	}
	apiErr.StatusCode = resp.StatusCode

	if upload {
		return syncerr.E(syncerr.KindUpload, op, apiErr)
	}
	return syncerr.E(apiErr.Kind(), op, apiErr)
}
