package utils

import (
	"path/filepath"
	"strings"
)

// IsPathWithin reports whether path, after resolving symlinks, stays inside
// root. Dump folders are untrusted and may carry links pointing elsewhere.
func IsPathWithin(path, root string) bool {
	absPath, err := resolve(path)
	if err != nil {
		return false
	}
	absRoot, err := resolve(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func resolve(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	return filepath.Abs(resolved)
}
