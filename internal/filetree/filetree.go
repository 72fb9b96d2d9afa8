// Package filetree defines the narrow interfaces through which the
// engine talks to the local file-tree representation and the metadata
// extractor. Both are external collaborators; this package also ships
// a minimal directory-backed provider used by the agent binary and the
// tests.
package filetree

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Node is one entry of the file tree.
type Node struct {
	Path  string
	IsDir bool
	Size  int64
	MTime int64
}

// Provider exposes the local file tree to the engine.
type Provider interface {
	// Lookup returns the node at the virtual path, or ok=false.
	Lookup(path string) (Node, bool)
	// Summary returns the serializable listing sent in SEND_INFO.
	Summary() map[string]any
	// OSPath maps a virtual path to an absolute path on disk.
	OSPath(path string) (string, error)
	// Register adds or refreshes a node after a file appeared.
	Register(path string, size int64)
}

// Metadata is what the extractor collaborator returns for one file.
type Metadata struct {
	Fields     map[string]any
	Thumbnails map[string][]byte
}

// MetadataExtractor reads structured fields and thumbnails from a
// local file.
type MetadataExtractor interface {
	Extract(osPath string) (*Metadata, error)
}

// ErrOutsideRoot is returned for virtual paths escaping the mount.
var ErrOutsideRoot = errors.New("path outside mounted root")

// DirTree is a Provider over one mounted directory. It tracks nodes it
// was told about; it does not watch the file system.
type DirTree struct {
	root string

	mu    sync.RWMutex
	nodes map[string]Node
}

// NewDirTree mounts root as the virtual tree "/".
func NewDirTree(root string) *DirTree {
	return &DirTree{root: root, nodes: make(map[string]Node)}
}

func (t *DirTree) Lookup(p string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[path.Clean("/"+p)]
	return node, ok
}

func (t *DirTree) Summary() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	children := make([]any, 0, len(t.nodes))
	for _, node := range t.nodes {
		children = append(children, map[string]any{
			"name":   path.Base(node.Path),
			"path":   node.Path,
			"dir":    node.IsDir,
			"size":   node.Size,
			"m_time": node.MTime,
		})
	}
	return map[string]any{
		"name":     "/",
		"dir":      true,
		"children": children,
	}
}

func (t *DirTree) OSPath(p string) (string, error) {
	clean := path.Clean("/" + p)
	if strings.Contains(clean, "..") {
		return "", ErrOutsideRoot
	}
	return filepath.Join(t.root, filepath.FromSlash(clean)), nil
}

func (t *DirTree) Register(p string, size int64) {
	clean := path.Clean("/" + p)
	var mtime int64
	if osPath, err := t.OSPath(clean); err == nil {
		if fi, err := os.Stat(osPath); err == nil {
			mtime = fi.ModTime().Unix()
			size = fi.Size()
		}
	}
	t.mu.Lock()
	t.nodes[clean] = Node{Path: clean, Size: size, MTime: mtime}
	t.mu.Unlock()
}
