package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Ensure the local nodes implement the interfaces
var (
	_ Directory = &LocalDirectory{}
	_ Creator   = &LocalDirectory{}
	_ File      = &LocalFile{}
)

// LocalFS mirrors a directory of the host as a tree of Directory and File nodes.
// Nodes are created on demand by Entries, so the open flags live here keyed by relative path.
type LocalFS struct {
	localDir string // local directory that acts as the root
	mu       sync.Mutex
	open     map[string]bool
}

// NewLocalFS creates a backend rooted at localDir
func NewLocalFS(localDir string) *LocalFS {
	return &LocalFS{
		localDir: filepath.Clean(localDir),
		open:     make(map[string]bool),
	}
}

// Root returns the root directory node
func (FS *LocalFS) Root() *LocalDirectory {
	return &LocalDirectory{fs: FS, rel: "."}
}

// CheckDir checks that the root exists and is a directory
func (FS *LocalFS) CheckDir() error {
	info, err := os.Stat(FS.localDir)
	if err != nil {
		return fmt.Errorf("error checking directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("error checking directory %q: %w", FS.localDir, ErrNotDirectory)
	}
	return nil
}

// securePath joins rel to the root and makes sure the result does not leave it
func (FS *LocalFS) securePath(rel string) (string, error) {
	full := filepath.Join(FS.localDir, rel)
	relPath, err := filepath.Rel(FS.localDir, full)
	if err != nil {
		return "", fmt.Errorf("error cleaning path: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", errors.New("access denied: path is outside the root directory")
	}
	return full, nil
}

func (FS *LocalFS) setOpen(rel string, open bool) error {
	FS.mu.Lock()
	defer FS.mu.Unlock()
	if FS.open[rel] == open {
		if open {
			return ErrAlreadyOpen
		}
		return ErrNotOpen
	}
	if open {
		FS.open[rel] = true
	} else {
		delete(FS.open, rel)
	}
	return nil
}

// LocalDirectory is a directory of the host
type LocalDirectory struct {
	fs     *LocalFS
	rel    string
	parent *LocalDirectory
}

func (d *LocalDirectory) Name() string {
	if d.parent == nil {
		return filepath.Base(d.fs.localDir)
	}
	return filepath.Base(d.rel)
}

func (d *LocalDirectory) ModTime() time.Time {
	full, err := d.fs.securePath(d.rel)
	if err != nil {
		return time.Time{}
	}
	info, err := os.Stat(full)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (d *LocalDirectory) Parent() Directory {
	if d.parent == nil {
		return nil
	}
	return d.parent
}

// Entries lists directories and regular files, other file types such as symlinks are skipped
func (d *LocalDirectory) Entries() ([]Entry, error) {
	full, err := d.fs.securePath(d.rel)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		rel := filepath.Join(d.rel, dirEntry.Name())
		switch {
		case dirEntry.IsDir():
			entries = append(entries, &LocalDirectory{fs: d.fs, rel: rel, parent: d})
		case dirEntry.Type().IsRegular():
			entries = append(entries, &LocalFile{fs: d.fs, rel: rel})
		}
	}
	return entries, nil
}

// MakeDirectory creates a directory on the host
func (d *LocalDirectory) MakeDirectory(name string) (Directory, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	rel := filepath.Join(d.rel, name)
	full, err := d.fs.securePath(rel)
	if err != nil {
		return nil, err
	}
	if err := os.Mkdir(full, 0777); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating directory %q: %w", name, ErrExist)
		}
		return nil, fmt.Errorf("error creating directory: %w", err)
	}
	return &LocalDirectory{fs: d.fs, rel: rel, parent: d}, nil
}

// CreateFile creates an empty file on the host
func (d *LocalDirectory) CreateFile(name string) (File, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	rel := filepath.Join(d.rel, name)
	full, err := d.fs.securePath(rel)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating file %q: %w", name, ErrExist)
		}
		return nil, fmt.Errorf("creating file error: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("closing file error: %w", err)
	}
	return &LocalFile{fs: d.fs, rel: rel}, nil
}

// LocalFile is a regular file of the host
type LocalFile struct {
	fs  *LocalFS
	rel string
}

func (f *LocalFile) Name() string {
	return filepath.Base(f.rel)
}

func (f *LocalFile) stat() (fs.FileInfo, error) {
	full, err := f.fs.securePath(f.rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("error getting file info: %w", err)
	}
	return info, nil
}

func (f *LocalFile) ModTime() time.Time {
	info, err := f.stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (f *LocalFile) Size() int64 {
	info, err := f.stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (f *LocalFile) Open() error {
	return f.fs.setOpen(f.rel, true)
}

func (f *LocalFile) Close() error {
	return f.fs.setOpen(f.rel, false)
}

// Read returns the whole file
func (f *LocalFile) Read() ([]byte, error) {
	full, err := f.fs.securePath(f.rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return data, nil
}

// Write truncates the file and writes data
func (f *LocalFile) Write(data []byte) error {
	full, err := f.fs.securePath(f.rel)
	if err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0666); err != nil {
		return fmt.Errorf("writing file error: %w", err)
	}
	return nil
}
