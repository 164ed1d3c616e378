package publish

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Chunk upload headers.
const (
	HeaderChunkSize   = "Chunk-Size"
	HeaderChunkIndex  = "Chunk-Index"
	HeaderChunkOffset = "Chunk-Offset"
	HeaderFileIndex   = "File-Index"
	HeaderIndexMtime  = "Index-Mtime"
	HeaderProcessID   = "Process-ID"
	HeaderLastChunk   = "Last-Chunk"
	HeaderLastFile    = "Last-File"
)

// Multipart form fields.
const (
	FieldManifest  = "manifest_client"
	FieldFile      = "file"
	FieldProcessID = "process_id"
	FieldIndexTime = "index_mtime"
	FieldLastFile  = "last_file"
	FieldFileIndex = "file_index"
)

const (
	StatusSuccess   = "success"
	StatusCompleted = "completed"
)

type UploadResponse struct {
	Status string `json:"status"`
}

// FinalizeRequest is accepted as a JSON body or as query parameters.
// index_mtime may be a JSON number or a string.
type FinalizeRequest struct {
	ProcessID  string          `json:"process_id"`
	IndexMtime json.RawMessage `json:"index_mtime"`
}

func (r *FinalizeRequest) indexMtime() string {
	raw := bytes.TrimSpace(r.IndexMtime)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

type FinalizeResponse struct {
	Message      string `json:"message"`
	Files        int    `json:"files"`
	Uploaded     int    `json:"uploaded"`
	Removed      int    `json:"removed"`
	IndexModTime int64  `json:"index_mtime"`
}

type CollectionsResponse struct {
	Version     string   `json:"version"`
	Collections []string `json:"collections"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
