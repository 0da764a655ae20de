package filesystem

import (
	"fmt"
	"strings"
)

// Navigator tracks the current directory of one session.
// It is not safe for concurrent use, each session owns its own Navigator.
type Navigator struct {
	current Directory
}

// NewNavigator returns a Navigator positioned at dir
func NewNavigator(dir Directory) *Navigator {
	return &Navigator{current: dir}
}

// Current returns the current directory
func (n *Navigator) Current() Directory {
	return n.current
}

// Path renders the current directory as an absolute path, the root is "/"
func (n *Navigator) Path() string {
	var names []string
	for d := n.current; d.Parent() != nil; d = d.Parent() {
		names = append(names, d.Name())
	}
	// names were collected leaf first
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/")
}

// ChangePath moves the current directory to path.
// A leading slash starts from the root, otherwise from the current directory.
// The move is atomic: if any segment fails to resolve the current directory is unchanged.
// An empty path succeeds without moving.
func (n *Navigator) ChangePath(path string) error {
	if path == "" {
		return nil
	}
	dest, err := n.resolveDirectory(n.start(path), strings.Split(path, "/"))
	if err != nil {
		return fmt.Errorf("changing directory to %q: %w", path, err)
	}
	n.current = dest
	return nil
}

// Parent moves to the parent directory, the root stays at the root
func (n *Navigator) Parent() {
	if p := n.current.Parent(); p != nil {
		n.current = p
	}
}

// Entries lists the current directory
func (n *Navigator) Entries() ([]Entry, error) {
	return n.current.Entries()
}

// Lookup resolves path to an entry without moving the current directory.
// Every segment but the last must be a directory, the last may be a file or a directory.
func (n *Navigator) Lookup(path string) (Entry, error) {
	dir, name, err := n.LookupParent(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return dir, nil
	}
	switch name {
	case ".":
		return dir, nil
	case "..":
		if p := dir.Parent(); p != nil {
			return p, nil
		}
		return dir, nil
	}
	entry, err := Child(dir, name)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", path, err)
	}
	return entry, nil
}

// LookupFile resolves path to a File
func (n *Navigator) LookupFile(path string) (File, error) {
	entry, err := n.Lookup(path)
	if err != nil {
		return nil, err
	}
	f, ok := entry.(File)
	if !ok {
		return nil, fmt.Errorf("looking up %q: %w", path, ErrNotFile)
	}
	return f, nil
}

// LookupParent resolves the directory that holds the last segment of path
// and returns it together with that last segment.
// For "/" and "" the returned name is empty.
func (n *Navigator) LookupParent(path string) (Directory, string, error) {
	start := n.start(path)
	segments := strings.Split(strings.TrimRight(path, "/"), "/")
	name := segments[len(segments)-1]
	dir, err := n.resolveDirectory(start, segments[:len(segments)-1])
	if err != nil {
		return nil, "", fmt.Errorf("looking up %q: %w", path, err)
	}
	return dir, name, nil
}

func (n *Navigator) start(path string) Directory {
	if strings.HasPrefix(path, "/") {
		return Root(n.current)
	}
	return n.current
}

// resolveDirectory walks segments from dir, empty segments are skipped,
// "." stays and ".." climbs (the root is its own parent)
func (n *Navigator) resolveDirectory(dir Directory, segments []string) (Directory, error) {
	for _, segment := range segments {
		switch segment {
		case "", ".":
			continue
		case "..":
			if p := dir.Parent(); p != nil {
				dir = p
			}
			continue
		}
		next, err := ChildDirectory(dir, segment)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", segment, err)
		}
		dir = next
	}
	return dir, nil
}
