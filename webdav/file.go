// Package webdav implements the core of a WebDAV (RFC 4918) request
// handler: method dispatch, conditional-request evaluation, multi-status
// XML assembly, property resolution and lock enforcement. It is meant to
// be embedded inside a host HTTP server and consumes two pluggable
// backends, a FileSystem and a LockSystem.
package webdav

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
)

// FileSystem is the abstract, asynchronous backing store that the
// Handler drives. All operations take a context.Context so that a
// backend may honor request cancellation; every method is a potential
// suspension point.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Paths are always "/"-separated, UTF-8, and have already
// been normalized and had any configured prefix stripped by the Handler
// before they reach the FileSystem.
type FileSystem interface {
	// Mkdir creates a directory. It returns an error satisfying
	// os.IsNotExist if the parent is missing, or os.IsExist if name
	// already exists.
	Mkdir(ctx context.Context, name string, perm os.FileMode) error

	// OpenFile opens the named file with the given os.O_* flags,
	// analogous to os.OpenFile.
	OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (File, error)

	// RemoveAll removes the named file or, recursively, the named
	// directory and its contents.
	RemoveAll(ctx context.Context, name string) error

	// Rename renames (moves) oldName to newName. The Handler removes
	// an existing newName before calling Rename, so newName does not
	// exist when it is called.
	Rename(ctx context.Context, oldName, newName string) error

	// Stat returns the FileInfo for name, following a trailing symlink
	// if one exists at the leaf.
	Stat(ctx context.Context, name string) (os.FileInfo, error)
}

// File is the handle returned by FileSystem.OpenFile. It supports the
// same read/seek/readdir surface as http.File plus writing.
//
// A File may optionally implement DeadPropsHolder; the property engine
// (C6) type-asserts for it and falls back to live-properties-only
// behavior when absent.
type File interface {
	http.File
	io.Writer
}

// DeadPropsHolder is implemented by File values whose FileSystem
// supports client-defined ("dead") property storage. Backends that
// don't care about properties (other than the live ones the Handler
// synthesizes itself) need not implement it.
type DeadPropsHolder interface {
	// DeadProps returns all stored dead properties for this resource,
	// keyed by (namespace, local-name).
	DeadProps() (map[PropertyName]Property, error)

	// Patch applies a PROPPATCH's set/remove operations, conceptually
	// as a single transaction: either every operation succeeds and is
	// persisted, or none are. It returns the per-property outcome as
	// Propstat groups, one group per distinct status.
	Patch(patches []Proppatch) ([]Propstat, error)
}

var (
	errNoFileSystem   = errors.New("webdav: no file system")
	errNoLockSystem   = errors.New("webdav: no lock system")
	errNotADirectory  = errors.New("webdav: not a directory")
	errInvalidPath    = errors.New("webdav: invalid path")
	errPrefixMismatch = errors.New("webdav: prefix mismatch")
)
