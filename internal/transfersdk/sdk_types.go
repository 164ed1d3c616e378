package transfersdk

import (
	"sort"

	"github.com/apluslms/static-file-host/internal/manifest"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderVersion   = "X-SFH-Version"
	HeaderDeviceID  = "X-SFH-Device-Id"

	HeaderChunkSize   = "Chunk-Size"
	HeaderChunkIndex  = "Chunk-Index"
	HeaderChunkOffset = "Chunk-Offset"
	HeaderFileIndex   = "File-Index"
	HeaderIndexMtime  = "Index-Mtime"
	HeaderProcessID   = "Process-ID"
	HeaderLastChunk   = "Last-Chunk"
	HeaderLastFile    = "Last-File"
)

const (
	StatusSuccess   = "success"
	StatusCompleted = "completed"
)

type ProgressCallback func(uploaded int64, total int64)

// SessionRef identifies the upload session on every request after the diff.
type SessionRef struct {
	ProcessID  string
	IndexMtime int64
}

type FinalizeRequest struct {
	ProcessID  string `json:"process_id"`
	IndexMtime int64  `json:"index_mtime"`
}

type DiffResponse struct {
	Exists    bool              `json:"exists"`
	SessionID string            `json:"sessionId"`
	New       manifest.Manifest `json:"files_new"`
	Updated   manifest.Manifest `json:"files_update"`
	Keep      []string          `json:"files_keep"`
	Remove    []string          `json:"files_remove"`
}

// Uploads returns the new and updated paths in sorted order.
func (d *DiffResponse) Uploads() []string {
	paths := make([]string, 0, len(d.New)+len(d.Updated))
	for p := range d.New {
		paths = append(paths, p)
	}
	for p := range d.Updated {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Chunk describes one slice of a compressed file sent with UploadChunk.
type Chunk struct {
	FileIndex  int
	ChunkIndex int
	ChunkSize  int64
	Offset     int64
	Last       bool
	LastFile   bool
}

type UploadResponse struct {
	Status string `json:"status"`
}

func (r *UploadResponse) Completed() bool {
	return r.Status == StatusCompleted
}

type FinalizeResponse struct {
	Message    string `json:"message"`
	Files      int    `json:"files"`
	Uploaded   int    `json:"uploaded"`
	Removed    int    `json:"removed"`
	IndexMtime int64  `json:"index_mtime"`
}

type CollectionsResponse struct {
	Version     string   `json:"version"`
	Collections []string `json:"collections"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
