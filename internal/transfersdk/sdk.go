package transfersdk

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/utils"
	"github.com/apluslms/static-file-host/internal/version"
)

const (
	routeFilesToUpdate = "/{collection}/get-files-to-update"
	routeUploadFile    = "/{collection}/upload-file"
	routeFinalize      = "/{collection}/upload-finalizer"
	routeManifest      = "/{collection}/manifest"
	routeCollection    = "/{collection}"
	routeFiles         = "/{collection}/files/"
	routeIndex         = "/"

	fieldManifest  = "manifest_client"
	fieldFile      = "file"
	fieldProcessID = "process_id"
	fieldIndexTime = "index_mtime"
	fieldLastFile  = "last_file"
	fieldFileIndex = "file_index"
)

// Client talks to one collection on a static file host.
type Client struct {
	client     *req.Client
	collection string
}

func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(timeout).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1*time.Second).
		// only transport failures, never an answered request
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			return err != nil
		}).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonHeader(HeaderDeviceID, utils.HWID).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if config.Token != "" {
		client.SetCommonBearerAuthToken(config.Token)
	}

	return &Client{
		client:     client,
		collection: config.Collection,
	}, nil
}

func (c *Client) Collection() string {
	return c.collection
}

func (c *Client) r(ctx context.Context) *req.Request {
	return c.client.R().
		SetContext(ctx).
		SetPathParam("collection", c.collection)
}

// GetFilesToUpdate posts the local manifest and opens an upload session.
func (c *Client) GetFilesToUpdate(ctx context.Context, local manifest.Manifest) (apiResp *DiffResponse, err error) {
	raw, err := local.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	resp, err := c.r(ctx).
		SetFileBytes(fieldManifest, "manifest.json", raw).
		SetSuccessResult(&apiResp).
		Post(routeFilesToUpdate)

	if err := handleAPIError(resp, err, "get files to update", false); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// UploadArchive sends a whole compressed archive. fileIndex < 0 omits the
// index and with it the server side duplicate detection.
func (c *Client) UploadArchive(ctx context.Context, ref SessionRef, fileIndex int, path string, lastFile bool, callback ProgressCallback) (apiResp *UploadResponse, err error) {
	form := map[string]string{
		fieldProcessID: ref.ProcessID,
		fieldIndexTime: formatMtime(ref.IndexMtime),
		fieldLastFile:  strconv.FormatBool(lastFile),
	}
	if fileIndex >= 0 {
		form[fieldFileIndex] = strconv.Itoa(fileIndex)
	}

	r := c.r(ctx).
		SetRetryCount(0).
		SetFormData(form).
		SetFile(fieldFile, path).
		SetSuccessResult(&apiResp)
	if callback != nil {
		r.SetUploadCallbackWithInterval(func(info req.UploadInfo) {
			callback(info.UploadedSize, info.FileSize)
		}, time.Second)
	}

	resp, err := r.Post(routeUploadFile)
	if err := handleAPIError(resp, err, "upload archive", true); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// UploadChunk sends one slice of a compressed file. Chunks are retried on
// transport errors since the server ignores duplicates.
func (c *Client) UploadChunk(ctx context.Context, ref SessionRef, chunk Chunk, data []byte) (apiResp *UploadResponse, err error) {
	resp, err := c.r(ctx).
		SetHeaders(map[string]string{
			HeaderProcessID:   ref.ProcessID,
			HeaderIndexMtime:  formatMtime(ref.IndexMtime),
			HeaderFileIndex:   strconv.Itoa(chunk.FileIndex),
			HeaderChunkIndex:  strconv.Itoa(chunk.ChunkIndex),
			HeaderChunkSize:   strconv.FormatInt(chunk.ChunkSize, 10),
			HeaderChunkOffset: strconv.FormatInt(chunk.Offset, 10),
			HeaderLastChunk:   strconv.FormatBool(chunk.Last),
			HeaderLastFile:    strconv.FormatBool(chunk.LastFile),
		}).
		SetContentType("application/octet-stream").
		SetBodyBytes(data).
		SetSuccessResult(&apiResp).
		Post(routeUploadFile)

	if err := handleAPIError(resp, err, "upload chunk", true); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// Finalize asks the server to publish the session.
func (c *Client) Finalize(ctx context.Context, ref SessionRef) (apiResp *FinalizeResponse, err error) {
	resp, err := c.r(ctx).
		SetBodyJsonMarshal(&FinalizeRequest{ProcessID: ref.ProcessID, IndexMtime: ref.IndexMtime}).
		SetSuccessResult(&apiResp).
		Post(routeFinalize)

	if err := handleAPIError(resp, err, "finalize", false); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// Manifest fetches the published manifest of the collection.
func (c *Client) Manifest(ctx context.Context) (apiResp manifest.Manifest, err error) {
	resp, err := c.r(ctx).
		SetSuccessResult(&apiResp).
		Get(routeManifest)

	if err := handleAPIError(resp, err, "get manifest", false); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// List returns all published collections on the server.
func (c *Client) List(ctx context.Context) (apiResp *CollectionsResponse, err error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(routeIndex)

	if err := handleAPIError(resp, err, "list collections", false); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func (c *Client) DeleteCollection(ctx context.Context) (apiResp *MessageResponse, err error) {
	resp, err := c.r(ctx).
		SetSuccessResult(&apiResp).
		Delete(routeCollection)

	if err := handleAPIError(resp, err, "delete collection", false); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func (c *Client) DeleteFile(ctx context.Context, path string) (apiResp *MessageResponse, err error) {
	resp, err := c.r(ctx).
		SetSuccessResult(&apiResp).
		Delete(routeFiles + escapePath(strings.TrimPrefix(path, "/")))

	if err := handleAPIError(resp, err, "delete file", false); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func formatMtime(t int64) string {
	return strconv.FormatInt(t, 10)
}

// escapePath escapes each element of a slash path, keeping the slashes.
func escapePath(p string) string {
	u := url.URL{Path: p}
	return u.EscapedPath()
}
