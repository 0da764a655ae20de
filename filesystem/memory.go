package filesystem

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// treeMu serializes structural changes so cycle checks and parent links stay consistent
var treeMu sync.Mutex

// Ensure the memory nodes implement the interfaces
var (
	_ Directory = &MemDirectory{}
	_ Creator   = &MemDirectory{}
	_ File      = &MemFile{}
)

// MemDirectory is an in-memory directory node.
// Children are guarded by the directory lock so a tree can be shared between sessions.
type MemDirectory struct {
	name     string
	parent   *MemDirectory // non-owning, nil at the root
	mu       sync.RWMutex
	children []Entry
	modTime  time.Time
}

// NewDirectory creates a detached directory, it becomes a root unless added to another directory
func NewDirectory(name string) *MemDirectory {
	return &MemDirectory{
		name:    name,
		modTime: time.Now(),
	}
}

func (d *MemDirectory) Name() string {
	return d.name
}

func (d *MemDirectory) ModTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.modTime
}

// Parent returns the parent directory or nil at the root
func (d *MemDirectory) Parent() Directory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.parent == nil {
		return nil
	}
	return d.parent
}

// Entries returns a copy of the children so callers can iterate without holding the lock
func (d *MemDirectory) Entries() ([]Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]Entry, len(d.children))
	copy(entries, d.children)
	return entries, nil
}

// AddDirectory attaches child under d.
// child must be detached and must not be d or one of its ancestors.
func (d *MemDirectory) AddDirectory(child *MemDirectory) error {
	if !ValidName(child.name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, child.name)
	}
	treeMu.Lock()
	defer treeMu.Unlock()
	for p := d; p != nil; p = p.parentDir() {
		if p == child {
			return fmt.Errorf("adding %q under %q: %w", child.name, d.name, ErrCycle)
		}
	}

	child.mu.Lock()
	defer child.mu.Unlock()
	if child.parent != nil {
		return fmt.Errorf("adding %q: %w", child.name, ErrHasParent)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasChild(child.name) {
		return fmt.Errorf("adding %q: %w", child.name, ErrExist)
	}
	child.parent = d
	d.children = append(d.children, child)
	d.modTime = time.Now()
	return nil
}

// AddFile attaches f under d
func (d *MemDirectory) AddFile(f *MemFile) error {
	if !ValidName(f.name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, f.name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasChild(f.name) {
		return fmt.Errorf("adding %q: %w", f.name, ErrExist)
	}
	d.children = append(d.children, f)
	d.modTime = time.Now()
	return nil
}

// MakeDirectory creates an empty child directory
func (d *MemDirectory) MakeDirectory(name string) (Directory, error) {
	child := NewDirectory(name)
	if err := d.AddDirectory(child); err != nil {
		return nil, err
	}
	return child, nil
}

// CreateFile creates an empty child file
func (d *MemDirectory) CreateFile(name string) (File, error) {
	f := NewFile(name, nil)
	if err := d.AddFile(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *MemDirectory) parentDir() *MemDirectory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.parent
}

// hasChild must be called with d.mu held
func (d *MemDirectory) hasChild(name string) bool {
	for _, entry := range d.children {
		if entry.Name() == name {
			return true
		}
	}
	return false
}

// MemFile is an in-memory file node
type MemFile struct {
	name    string
	mu      sync.Mutex
	data    []byte
	isOpen  bool
	modTime time.Time
}

// NewFile creates a closed file holding a copy of data
func NewFile(name string, data []byte) *MemFile {
	return &MemFile{
		name:    name,
		data:    bytes.Clone(data),
		modTime: time.Now(),
	}
}

func (f *MemFile) Name() string {
	return f.name
}

func (f *MemFile) ModTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modTime
}

func (f *MemFile) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data))
}

func (f *MemFile) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isOpen {
		return ErrAlreadyOpen
	}
	f.isOpen = true
	return nil
}

func (f *MemFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isOpen {
		return ErrNotOpen
	}
	f.isOpen = false
	return nil
}

// IsOpen reports the open flag
func (f *MemFile) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isOpen
}

// Read returns a copy of the content, never nil
func (f *MemFile) Read() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, len(f.data))
	copy(data, f.data)
	return data, nil
}

// Write replaces the content with a copy of data
func (f *MemFile) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = bytes.Clone(data)
	f.modTime = time.Now()
	return nil
}
