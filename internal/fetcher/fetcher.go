package fetcher

import (
	"context"
	"sort"
)

// FileTree is an in-memory snapshot of a repository: path -> file content.
// Paths are slash-separated and relative to the repository root.
type FileTree struct {
	Files map[string]string
}

func NewFileTree() *FileTree {
	return &FileTree{Files: make(map[string]string)}
}

// Paths returns all file paths in lexical order.
func (t *FileTree) Paths() []string {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns an independent copy of the tree.
func (t *FileTree) Clone() *FileTree {
	clone := NewFileTree()
	for p, content := range t.Files {
		clone.Files[p] = content
	}
	return clone
}

// RepositoryFetcher acquires a repository's working tree for a task.
type RepositoryFetcher interface {
	Fetch(ctx context.Context, repoURL string) (*FileTree, error)
}
