// Description: filesystem package
// This package contains the entry model the FTP session navigates:
// Directory and File nodes forming a rooted tree, an in-memory backend,
// a backend that mirrors a local directory of the host, and the Navigator
// that tracks the current directory and resolves paths against the tree.

package filesystem

import (
	"errors"
	"time"
)

// MaxFileSize bounds the content an upload may store, files are held in memory while they move
const MaxFileSize = 64 << 20

var (
	// ErrNotFound is returned when a path segment does not resolve to an entry
	ErrNotFound = errors.New("entry not found")
	// ErrNotDirectory is returned when a path needs a directory but names a file
	ErrNotDirectory = errors.New("not a directory")
	// ErrNotFile is returned when a path needs a file but names a directory
	ErrNotFile = errors.New("not a file")
	// ErrExist is returned when adding a child whose name is already taken
	ErrExist = errors.New("entry already exists")
	// ErrAlreadyOpen is returned by File.Open on an open file
	ErrAlreadyOpen = errors.New("file already open")
	// ErrNotOpen is returned by File.Close on a closed file
	ErrNotOpen = errors.New("file not open")
	// ErrHasParent is returned when adding a directory that is already attached to a tree
	ErrHasParent = errors.New("directory already has a parent")
	// ErrCycle is returned when adding a directory under one of its own descendants
	ErrCycle = errors.New("directory would become its own ancestor")
	// ErrInvalidName is returned for empty names or names containing a slash
	ErrInvalidName = errors.New("invalid entry name")
	// ErrReadOnly is returned when a backend directory cannot create children
	ErrReadOnly = errors.New("directory does not support creating entries")
)

// Entry is a node of the filesystem tree, either a File or a Directory.
type Entry interface {
	// Name returns the entry name, never containing a slash
	Name() string
	// ModTime returns the last modification time of the entry
	ModTime() time.Time
}

// Directory is an Entry that owns an ordered list of children.
type Directory interface {
	Entry
	// Parent returns the parent directory, or nil at the root.
	// The parent reference is for lookup only, the parent owns the child.
	Parent() Directory
	// Entries returns a snapshot of the children in order
	Entries() ([]Entry, error)
}

// File is an Entry holding byte content.
// Open and Close are advisory bookkeeping, Read does not require an open file.
type File interface {
	Entry
	// Size returns the content length in bytes
	Size() int64
	// Open marks the file open, it fails with ErrAlreadyOpen if it is already open
	Open() error
	// Close marks the file closed, it fails with ErrNotOpen if it is not open
	Close() error
	// Read returns the full content
	Read() ([]byte, error)
	// Write replaces the content with data
	Write(data []byte) error
}

// Creator is implemented by directories that can add children on request (MKD, STOR).
type Creator interface {
	// MakeDirectory adds and returns an empty child directory
	MakeDirectory(name string) (Directory, error)
	// CreateFile adds and returns an empty child file
	CreateFile(name string) (File, error)
}

// Root walks parent links up from d and returns the root directory.
func Root(d Directory) Directory {
	for {
		p := d.Parent()
		if p == nil {
			return d
		}
		d = p
	}
}

// OpenForRead marks f open for a reader. A file that is already open is still readable,
// readers share it. The returned release closes the file only when this call opened it.
func OpenForRead(f File) (release func(), err error) {
	err = f.Open()
	switch {
	case err == nil:
		return func() { _ = f.Close() }, nil
	case errors.Is(err, ErrAlreadyOpen):
		return func() {}, nil
	}
	return nil, err
}

// Child returns the child of d with exactly the given name.
func Child(d Directory, name string) (Entry, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Name() == name {
			return entry, nil
		}
	}
	return nil, ErrNotFound
}

// ChildDirectory returns the child directory of d with exactly the given name.
// A file with the same name does not match.
func ChildDirectory(d Directory, name string) (Directory, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if dir, ok := entry.(Directory); ok && entry.Name() == name {
			return dir, nil
		}
	}
	return nil, ErrNotFound
}

// ValidName reports whether name can name a child, a non empty path segment other than "." and ".."
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return false
		}
	}
	return true
}
