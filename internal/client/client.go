package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/apluslms/static-file-host/internal/client/packer"
	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/transfersdk"
	"github.com/apluslms/static-file-host/internal/utils"
)

// API is the part of the transfer client used here.
type API interface {
	packer.Sender
	GetFilesToUpdate(ctx context.Context, local manifest.Manifest) (*transfersdk.DiffResponse, error)
	Finalize(ctx context.Context, ref transfersdk.SessionRef) (*transfersdk.FinalizeResponse, error)
	Manifest(ctx context.Context) (manifest.Manifest, error)
	List(ctx context.Context) (*transfersdk.CollectionsResponse, error)
	DeleteCollection(ctx context.Context) (*transfersdk.MessageResponse, error)
	DeleteFile(ctx context.Context, path string) (*transfersdk.MessageResponse, error)
}

// Client publishes one local site directory to one collection.
type Client struct {
	config  *Config
	api     API
	builder *manifest.Builder
	packer  *packer.Packer
}

func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	sdk, err := transfersdk.New(config.sdkConfig())
	if err != nil {
		return nil, fmt.Errorf("create transfer client: %w", err)
	}
	return newWithAPI(config, sdk), nil
}

func newWithAPI(config *Config, api API) *Client {
	opts := []manifest.BuilderOption{manifest.WithExcludes(config.Excludes...)}
	if !config.NoIgnore {
		opts = append(opts, manifest.WithIgnoreRules())
	}
	return &Client{
		config:  config,
		api:     api,
		builder: manifest.NewBuilder(opts...),
		packer:  packer.New(api, config.Root, config.Packer),
	}
}

// UploadResult describes a finished upload run.
type UploadResult struct {
	Process  *Process
	Exists   bool
	Uploaded []string
	Removed  []string
	Kept     int
	Stats    *packer.Stats
}

// Upload diffs the site against the collection, sends the changed files and
// records the session in the process file for a later Publish.
func (c *Client) Upload(ctx context.Context) (*UploadResult, error) {
	start := time.Now()

	local, err := c.builder.Build(c.config.Root)
	if err != nil {
		return nil, err
	}
	indexMtime, ok := manifest.Version(local, c.config.IndexFile)
	if !ok {
		return nil, syncerr.Errorf(syncerr.KindManifest, "upload", "site has no %q", c.config.IndexFile)
	}

	diff, err := c.api.GetFilesToUpdate(ctx, local)
	if err != nil {
		return nil, err
	}
	slog.Info("diff", "collection", c.config.Collection, "exists", diff.Exists,
		"new", len(diff.New), "updated", len(diff.Updated), "keep", len(diff.Keep), "remove", len(diff.Remove))

	proc := &Process{
		ProcessID:  diff.SessionID,
		IndexMtime: indexMtime,
		Collection: c.config.Collection,
		ServerURL:  c.config.ServerURL,
		CreatedAt:  time.Now().UTC(),
	}

	uploads := diff.Uploads()
	files, err := c.sizes(uploads)
	if err != nil {
		return nil, err
	}

	stats, err := c.packer.Send(ctx, proc.Ref(), files)
	if err != nil {
		return nil, err
	}

	if err := saveProcess(c.config.Root, proc); err != nil {
		return nil, err
	}

	slog.Info("upload done", "collection", c.config.Collection, "process", proc.ProcessID,
		"files", len(uploads), "sent", humanize.IBytes(uint64(stats.Bytes)), "took", time.Since(start).Round(time.Millisecond))

	return &UploadResult{
		Process:  proc,
		Exists:   diff.Exists,
		Uploaded: uploads,
		Removed:  diff.Remove,
		Kept:     len(diff.Keep),
		Stats:    stats,
	}, nil
}

func (c *Client) sizes(paths []string) ([]packer.File, error) {
	files := make([]packer.File, 0, len(paths))
	for _, rel := range paths {
		full, err := utils.SecureJoin(c.config.Root, rel)
		if err != nil {
			return nil, syncerr.E(syncerr.KindTraversal, "upload", err)
		}
		info, err := os.Stat(full)
		if err != nil {
			return nil, syncerr.E(syncerr.KindTraversal, "upload", err)
		}
		files = append(files, packer.File{Path: rel, Size: info.Size()})
	}
	return files, nil
}

// Publish finalizes the session recorded by Upload. The process file is
// removed once the session is gone on the server, published or discarded.
func (c *Client) Publish(ctx context.Context) (*transfersdk.FinalizeResponse, error) {
	proc, err := loadProcess(c.config.Root)
	if err != nil {
		return nil, err
	}
	if proc.Collection != c.config.Collection || proc.ServerURL != c.config.ServerURL {
		return nil, fmt.Errorf("pending upload belongs to %s on %s", proc.Collection, proc.ServerURL)
	}

	res, err := c.api.Finalize(ctx, proc.Ref())
	if err != nil {
		switch syncerr.KindOf(err) {
		case syncerr.KindStaleVersion, syncerr.KindNotFound:
			if rmErr := removeProcess(c.config.Root); rmErr != nil {
				slog.Warn("remove process file", "error", rmErr)
			}
		}
		return nil, err
	}

	if err := removeProcess(c.config.Root); err != nil {
		slog.Warn("remove process file", "error", err)
	}
	slog.Info("published", "collection", c.config.Collection, "files", res.Files, "uploaded", res.Uploaded, "removed", res.Removed)
	return res, nil
}

// Sync runs Upload and Publish back to back.
func (c *Client) Sync(ctx context.Context) (*transfersdk.FinalizeResponse, error) {
	if _, err := c.Upload(ctx); err != nil {
		return nil, err
	}
	return c.Publish(ctx)
}

// Pending returns the upload waiting for Publish, or ErrNoProcess.
func (c *Client) Pending() (*Process, error) {
	return loadProcess(c.config.Root)
}

// Delete removes one published file, or the whole collection when path is empty.
func (c *Client) Delete(ctx context.Context, path string) (string, error) {
	var (
		res *transfersdk.MessageResponse
		err error
	)
	if path == "" {
		res, err = c.api.DeleteCollection(ctx)
	} else {
		res, err = c.api.DeleteFile(ctx, path)
	}
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

func (c *Client) List(ctx context.Context) (*transfersdk.CollectionsResponse, error) {
	return c.api.List(ctx)
}

// remoteManifest returns the published manifest, empty when the collection
// does not exist yet.
func (c *Client) remoteManifest(ctx context.Context) (manifest.Manifest, bool, error) {
	m, err := c.api.Manifest(ctx)
	if errors.Is(err, syncerr.NotFound) {
		return manifest.Manifest{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}
