package walker

import (
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DirFS is an os.DirFS that also exposes the on-disk location of its files,
// enabling mmap reads and symlink containment checks.
type DirFS struct {
	fs.FS
	root string
}

func NewDirFS(root string) DirFS {
	return DirFS{FS: os.DirFS(root), root: root}
}

func (d DirFS) Root() string {
	return d.root
}

func (d DirFS) LocalPath(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(name))
}

type localFS interface {
	Root() string
	LocalPath(name string) string
}

// RootFolder is the pseudo folder holding files that sit directly in the root.
const RootFolder = "."

// Folders lists the immediate subdirectories of fsys. When includeRoot is set
// and the root holds regular files, RootFolder is yielded first. Each call
// re-reads the root; the sequence is finite.
func Folders(fsys fs.FS, includeRoot bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries, err := fs.ReadDir(fsys, ".")
		if err != nil {
			yield("", err)
			return
		}
		if includeRoot {
			for _, entry := range entries {
				if entry.Type().IsRegular() {
					if !yield(RootFolder, nil) {
						return
					}
					break
				}
			}
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if !yield(entry.Name(), nil) {
				return
			}
		}
	}
}

// Files lists regular files under folder, descending at most maxDepth levels
// (0 means unlimited). RootFolder is never descended: its subdirectories are
// folders of their own. Errors are yielded with the offending path and the
// walk continues.
func Files(fsys fs.FS, folder string, maxDepth int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if folder == RootFolder {
			entries, err := fs.ReadDir(fsys, ".")
			if err != nil {
				yield(folder, err)
				return
			}
			for _, entry := range entries {
				if entry.Type().IsRegular() && !yield(entry.Name(), nil) {
					return
				}
			}
			return
		}

		_ = fs.WalkDir(fsys, folder, func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(name, err) {
					return fs.SkipAll
				}
				return nil
			}
			if d.IsDir() {
				if name != folder && maxDepth > 0 && depth(folder, name) >= maxDepth {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if !yield(name, nil) {
				return fs.SkipAll
			}
			return nil
		})
	}
}

// depth is 1 for direct children of folder.
func depth(folder, name string) int {
	rel := strings.TrimPrefix(name, folder+"/")
	return strings.Count(path.Clean(rel), "/") + 1
}
