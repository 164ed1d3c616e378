// Package syncerr defines the error kinds shared by the sync client and server.
// Callers branch on Kind, never on message text.
package syncerr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuth
	KindManifest
	KindStaleVersion
	KindProtocol
	KindUpload
	KindConcurrency
	KindCommit
	KindExtraction
	KindNotFound
	KindTraversal
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindAuth:         "auth",
	KindManifest:     "manifest",
	KindStaleVersion: "stale version",
	KindProtocol:     "protocol",
	KindUpload:       "upload",
	KindConcurrency:  "concurrency",
	KindCommit:       "commit",
	KindExtraction:   "extraction",
	KindNotFound:     "not found",
	KindTraversal:    "traversal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Retryable reports whether the same request may succeed if simply repeated.
func (k Kind) Retryable() bool {
	return k == KindConcurrency
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, syncerr.StaleVersion) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	Auth         = &Error{Kind: KindAuth}
	Manifest     = &Error{Kind: KindManifest}
	StaleVersion = &Error{Kind: KindStaleVersion}
	Protocol     = &Error{Kind: KindProtocol}
	Upload       = &Error{Kind: KindUpload}
	Concurrency  = &Error{Kind: KindConcurrency}
	Commit       = &Error{Kind: KindCommit}
	Extraction   = &Error{Kind: KindExtraction}
	NotFound     = &Error{Kind: KindNotFound}
	Traversal    = &Error{Kind: KindTraversal}
)

var (
	// ErrUploadIncomplete marks a finalize on a session still waiting for files.
	ErrUploadIncomplete = errors.New("upload is not completed")
	// ErrAccessDenied marks valid credentials that do not cover the collection.
	ErrAccessDenied = errors.New("access denied")
)

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
