package client

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/utils"
)

const eventBufferSize = 256

// Watch syncs the site whenever files below the root change and then stay
// quiet for the debounce period. It runs one sync at start and returns when
// ctx is done. Failed syncs are logged and retried on the next change.
func (c *Client) Watch(ctx context.Context) error {
	events := make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(c.config.Root, "..."), events, notify.All); err != nil {
		return err
	}
	defer notify.Stop(events)

	slog.Info("watch start", "root", c.config.Root, "collection", c.config.Collection, "debounce", c.config.Debounce)
	defer slog.Info("watch stop")

	c.syncOnce(ctx)

	timer := time.NewTimer(c.config.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if c.ignoreEvent(ev.Path()) {
				continue
			}
			slog.Debug("watch event", "event", ev.Event(), "path", ev.Path())
			timer.Reset(c.config.Debounce)

		case <-timer.C:
			c.syncOnce(ctx)
		}
	}
}

// ignoreEvent drops events for hidden entries, which covers the process file.
func (c *Client) ignoreEvent(path string) bool {
	rel, err := filepath.Rel(c.config.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return true
	}
	return utils.HasHiddenElem(filepath.ToSlash(rel))
}

func (c *Client) syncOnce(ctx context.Context) {
	res, err := c.Sync(ctx)
	switch {
	case err == nil:
		slog.Info("watch sync done", "files", res.Files, "uploaded", res.Uploaded, "removed", res.Removed)
	case errors.Is(err, syncerr.StaleVersion):
		slog.Info("watch sync skipped, nothing newer to publish")
	case ctx.Err() != nil:
	default:
		slog.Error("watch sync", "error", err)
	}
}
