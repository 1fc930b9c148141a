// Package tree provides a view of one directory tree (source, index or
// target) on top of an afero.Fs. All methods take paths relative to the
// tree's root.
package tree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Tree is a directory tree rooted at Root.
type Tree struct {
	Fs   afero.Fs
	Root string
}

// New returns the tree rooted at root.
func New(fs afero.Fs, root string) Tree {
	return Tree{Fs: fs, Root: root}
}

// Path returns the full path of rel.
func (t Tree) Path(rel string) string {
	if rel == "" {
		return t.Root
	}
	return filepath.Join(t.Root, rel)
}

// Lstat returns the FileInfo of rel without following a final symlink,
// when the underlying filesystem supports it.
func (t Tree) Lstat(rel string) (os.FileInfo, error) {
	if l, ok := t.Fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(t.Path(rel))
		return fi, err
	}
	return t.Fs.Stat(t.Path(rel))
}

// ReadDirNames lists the names in directory rel, sorted.
func (t Tree) ReadDirNames(rel string) ([]string, error) {
	f, err := t.Fs.Open(t.Path(rel))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ReadDir lists the entries of directory rel, sorted by name. Entries are
// not followed if they are symlinks.
func (t Tree) ReadDir(rel string) ([]os.FileInfo, error) {
	return afero.ReadDir(t.Fs, t.Path(rel))
}

// Readlink returns the literal target of the symlink rel.
func (t Tree) Readlink(rel string) (string, error) {
	lr, ok := t.Fs.(afero.LinkReader)
	if !ok {
		return "", &os.PathError{Op: "readlink", Path: t.Path(rel), Err: afero.ErrNoReadlink}
	}
	return lr.ReadlinkIfPossible(t.Path(rel))
}

// Symlink replaces whatever is at rel with a symlink to link. link is
// stored verbatim, so relative links resolve against rel's parent.
func (t Tree) Symlink(link, rel string) error {
	ln, ok := t.Fs.(afero.Linker)
	if !ok {
		return &os.LinkError{Op: "symlink", Old: link, New: t.Path(rel), Err: afero.ErrNoSymlink}
	}
	if err := t.Fs.Remove(t.Path(rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return ln.SymlinkIfPossible(link, t.Path(rel))
}

// MkdirAll creates directory rel and any missing parents.
func (t Tree) MkdirAll(rel string) error {
	return t.Fs.MkdirAll(t.Path(rel), 0o755)
}

// Remove removes the file or empty directory rel.
func (t Tree) Remove(rel string) error {
	return t.Fs.Remove(t.Path(rel))
}

// RemoveAll removes rel and everything below it.
func (t Tree) RemoveAll(rel string) error {
	return t.Fs.RemoveAll(t.Path(rel))
}

// WriteFile writes data to rel, replacing any existing file.
func (t Tree) WriteFile(rel string, data []byte) error {
	return afero.WriteFile(t.Fs, t.Path(rel), data, 0o644)
}

// CopyFileFrom copies src's file rel to the same place in t. The copy is
// written to a temporary file next to the destination and renamed into
// place, so a failed copy never leaves a partial file behind.
func (t Tree) CopyFileFrom(src Tree, rel string) (err error) {
	dst := t.Path(rel)

	srcFile, err := src.Fs.Open(src.Path(rel))
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}
	if srcInfo.IsDir() {
		return fmt.Errorf("%s: is a directory", src.Path(rel))
	}

	tmpFile, err := afero.TempFile(t.Fs, filepath.Dir(dst), ".idxbackup-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if err != nil {
			_ = t.Fs.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err = tmpFile.Close(); err != nil {
		return err
	}
	if err = t.Fs.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
		return err
	}
	return t.Fs.Rename(tmpPath, dst)
}
