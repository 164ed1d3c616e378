package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // valid credentials for another collection
	CodeNotFound       = "E_NOT_FOUND"       // unknown collection, file or session

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // token missing, malformed, expired or badly signed

	// Publish errors
	CodeManifestInvalid  = "E_MANIFEST_INVALID"  // client manifest malformed or missing the index entry
	CodeStaleVersion     = "E_STALE_VERSION"     // client tree is not newer than the published tree
	CodeProtocol         = "E_PROTOCOL"          // out of order chunk, bad header or session mismatch
	CodeUploadIncomplete = "E_UPLOAD_INCOMPLETE" // finalize before the last file arrived
	CodeUploadFailed     = "E_UPLOAD_FAILED"     // upload body could not be received
	CodeConcurrency      = "E_CONCURRENCY"       // collection lock not acquired in time
	CodeExtractionFailed = "E_EXTRACTION_FAILED" // uploaded archive could not be unpacked
	CodeCommitFailed     = "E_COMMIT_FAILED"     // filesystem failure while publishing
)
