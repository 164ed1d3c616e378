// Package packer decides how a set of changed files travels to the server:
// large files one by one (chunked when their compressed form is big), the
// rest in compressed groups that are halved until each fits one request.
package packer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/apluslms/static-file-host/internal/archive"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/transfersdk"
)

const (
	DefaultLargeThreshold = int64(50 * 1024 * 1024) // files above are packed alone
	DefaultSmallThreshold = int64(4 * 1024 * 1024)  // payloads up to this go in one request
	DefaultChunkSize      = int64(4 * 1024 * 1024)
)

// Sender is the upload half of the transfer client.
type Sender interface {
	UploadArchive(ctx context.Context, ref transfersdk.SessionRef, fileIndex int, path string, lastFile bool, callback transfersdk.ProgressCallback) (*transfersdk.UploadResponse, error)
	UploadChunk(ctx context.Context, ref transfersdk.SessionRef, chunk transfersdk.Chunk, data []byte) (*transfersdk.UploadResponse, error)
}

// File is a path relative to the site root with its uncompressed size.
type File struct {
	Path string
	Size int64
}

type Options struct {
	LargeThreshold int64
	SmallThreshold int64
	ChunkSize      int64
	// TempDir holds compressed payloads while they are sent. Defaults to os.TempDir().
	TempDir  string
	Progress transfersdk.ProgressCallback
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.LargeThreshold <= 0 {
		out.LargeThreshold = DefaultLargeThreshold
	}
	if out.SmallThreshold <= 0 {
		out.SmallThreshold = DefaultSmallThreshold
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	return out
}

// Stats summarises one Send.
type Stats struct {
	Archives int   // payloads sent in a single request
	Chunked  int   // payloads sent as chunks
	Chunks   int   // chunk requests
	Bytes    int64 // compressed bytes sent
}

type Packer struct {
	sender Sender
	root   string
	opts   Options
}

func New(sender Sender, root string, opts Options) *Packer {
	return &Packer{
		sender: sender,
		root:   root,
		opts:   opts.withDefaults(),
	}
}

// send carries the state of one Send call.
type send struct {
	*Packer
	ref       transfersdk.SessionRef
	lastPath  string
	fileIndex int
	stats     Stats
	buf       []byte
}

// Send uploads files for the session. Large files go first, in order,
// followed by the grouped small files. The request carrying the final file
// of the list is flagged as the last file. Any failure aborts the rest.
func (p *Packer) Send(ctx context.Context, ref transfersdk.SessionRef, files []File) (*Stats, error) {
	if len(files) == 0 {
		return &Stats{}, nil
	}

	var large, small []File
	for _, f := range files {
		if f.Size > p.opts.LargeThreshold {
			large = append(large, f)
		} else {
			small = append(small, f)
		}
	}
	ordered := append(append([]File{}, large...), small...)

	s := &send{
		Packer:   p,
		ref:      ref,
		lastPath: ordered[len(ordered)-1].Path,
	}

	for _, f := range large {
		if err := s.sendLarge(ctx, f); err != nil {
			return &s.stats, err
		}
	}
	if len(small) > 0 {
		if err := s.sendGroup(ctx, small); err != nil {
			return &s.stats, err
		}
	}

	slog.Debug("packer sent", "archives", s.stats.Archives, "chunked", s.stats.Chunked,
		"chunks", s.stats.Chunks, "bytes", humanize.IBytes(uint64(s.stats.Bytes)))
	return &s.stats, nil
}

func (s *send) sendLarge(ctx context.Context, f File) error {
	payload, size, err := s.compress([]File{f})
	if err != nil {
		return err
	}
	defer os.Remove(payload)

	last := f.Path == s.lastPath
	if size <= s.opts.SmallThreshold {
		return s.sendWhole(ctx, payload, size, last)
	}
	return s.sendChunked(ctx, payload, size, last)
}

// sendGroup compresses files together. A payload above the small threshold
// is split into two halves by list order and each half handled the same
// way; a single file is always sent whole.
func (s *send) sendGroup(ctx context.Context, files []File) error {
	payload, size, err := s.compress(files)
	if err != nil {
		return err
	}

	if size <= s.opts.SmallThreshold || len(files) == 1 {
		defer os.Remove(payload)
		return s.sendWhole(ctx, payload, size, files[len(files)-1].Path == s.lastPath)
	}
	os.Remove(payload)

	half := len(files) / 2
	slog.Debug("packer split", "files", len(files), "compressed", humanize.IBytes(uint64(size)))
	if err := s.sendGroup(ctx, files[:half]); err != nil {
		return err
	}
	return s.sendGroup(ctx, files[half:])
}

func (s *send) compress(files []File) (string, int64, error) {
	tmp, err := os.CreateTemp(s.opts.TempDir, "sfh-upload-*.tar.gz")
	if err != nil {
		return "", 0, fmt.Errorf("create payload: %w", err)
	}
	tmp.Close()

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	size, err := archive.WriteFile(tmp.Name(), s.root, paths)
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("compress %d files: %w", len(files), err)
	}
	return tmp.Name(), size, nil
}

func (s *send) nextIndex() int {
	i := s.fileIndex
	s.fileIndex++
	return i
}

func (s *send) sendWhole(ctx context.Context, payload string, size int64, last bool) error {
	if _, err := s.sender.UploadArchive(ctx, s.ref, s.nextIndex(), payload, last, s.opts.Progress); err != nil {
		return err
	}
	s.stats.Archives++
	s.stats.Bytes += size
	return nil
}

func (s *send) sendChunked(ctx context.Context, payload string, size int64, last bool) error {
	f, err := os.Open(payload)
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	if int64(cap(s.buf)) < s.opts.ChunkSize {
		s.buf = make([]byte, s.opts.ChunkSize)
	}
	buf := s.buf[:s.opts.ChunkSize]

	fileIndex := s.nextIndex()
	var offset int64
	for index := 0; offset < size; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return syncerr.E(syncerr.KindUpload, "read chunk", err)
		}

		chunk := transfersdk.Chunk{
			FileIndex:  fileIndex,
			ChunkIndex: index,
			ChunkSize:  s.opts.ChunkSize,
			Offset:     offset,
			Last:       offset+int64(n) >= size,
			LastFile:   last,
		}
		if _, err := s.sender.UploadChunk(ctx, s.ref, chunk, buf[:n]); err != nil {
			return err
		}

		offset += int64(n)
		s.stats.Chunks++
		if s.opts.Progress != nil {
			s.opts.Progress(offset, size)
		}
	}

	s.stats.Chunked++
	s.stats.Bytes += size
	return nil
}
