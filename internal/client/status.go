package client

import (
	"context"
	"fmt"
	"path"

	"github.com/disiqueira/gotree/v3"

	"github.com/apluslms/static-file-host/internal/manifest"
)

const (
	markNew     = "+ "
	markUpdated = "~ "
	markRemoved = "- "
)

// Status is a local dry run of the next upload.
type Status struct {
	Collection string
	Exists     bool
	Stale      bool // local index is not newer than the published one
	Delta      *manifest.Delta
	Pending    *Process
}

// Status compares the site with the published manifest without opening a session.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	local, err := c.builder.Build(c.config.Root)
	if err != nil {
		return nil, err
	}
	remote, exists, err := c.remoteManifest(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{Collection: c.config.Collection, Exists: exists}
	if exists {
		claimed, _ := manifest.Version(local, c.config.IndexFile)
		base, _ := manifest.Version(remote, c.config.IndexFile)
		st.Stale = !manifest.Newer(claimed, base)
		st.Delta = manifest.Diff(local, remote)
	} else {
		st.Delta = &manifest.Delta{New: local, Updated: manifest.Manifest{}}
	}

	if p, err := loadProcess(c.config.Root); err == nil {
		st.Pending = p
	}
	return st, nil
}

func (s *Status) Changed() bool {
	return len(s.Delta.New)+len(s.Delta.Updated)+len(s.Delta.Remove) > 0
}

// Tree renders the pending changes grouped by directory.
func (s *Status) Tree() string {
	label := s.Collection
	if !s.Exists {
		label += " (not published)"
	}
	t := fileTree{tree: gotree.New(label), dirs: make(map[string]gotree.Tree)}

	for _, p := range s.Delta.New.Paths() {
		t.insert(p, markNew)
	}
	for _, p := range s.Delta.Updated.Paths() {
		t.insert(p, markUpdated)
	}
	for _, p := range s.Delta.Remove {
		t.insert(p, markRemoved)
	}
	if len(s.Delta.Keep) > 0 {
		t.tree.Add(fmt.Sprintf("(%d unchanged)", len(s.Delta.Keep)))
	}
	return t.tree.Print()
}

type fileTree struct {
	tree gotree.Tree
	dirs map[string]gotree.Tree
}

func (t fileTree) dir(dirPath string) gotree.Tree {
	if dirPath == "." {
		return t.tree
	}
	d, ok := t.dirs[dirPath]
	if !ok {
		d = t.dir(path.Dir(dirPath)).Add(path.Base(dirPath) + "/")
		t.dirs[dirPath] = d
	}
	return d
}

func (t fileTree) insert(p, mark string) {
	t.dir(path.Dir(p)).Add(mark + path.Base(p))
}
