package commit

import (
	"errors"
	"os"

	"github.com/apluslms/static-file-host/internal/utils"
)

var errExchangeUnsupported = errors.New("atomic exchange not supported")

// fsOps is the set of filesystem calls the commit path makes.
type fsOps interface {
	Rename(oldpath, newpath string) error
	// Exchange atomically swaps two existing paths.
	Exchange(a, b string) error
	Link(src, dst string) error
}

type osFS struct{}

func (osFS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
func (osFS) Exchange(a, b string) error           { return exchange(a, b) }
func (osFS) Link(src, dst string) error           { return utils.LinkOrCopy(src, dst) }
