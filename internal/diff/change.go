package diff

import (
	"fmt"

	"github.com/schaermu/idxbackup/internal/indexfile"
)

// Change is one structural mutation found by Perform. It is implemented only
// by the types in this package.
type Change interface {
	// ChangePath returns the path the change applies to, relative to the
	// tree roots.
	ChangePath() string
	String() string
	isChange()
}

// AddDir ensures a directory exists. Only new directories need creating;
// existing ones are reported for their subtree size.
type AddDir struct {
	Path         string
	IsNew        bool
	SubtreeBytes uint64
}

// AddFile adds or replaces a regular file.
type AddFile struct {
	Path   string
	Record indexfile.Record
}

// AddSymlink creates a symlink pointing at Link, replacing what was there.
type AddSymlink struct {
	Path string
	Link string
}

// RemoveFile removes a file or symlink.
type RemoveFile struct {
	Path string
}

// RemoveDir removes a directory and everything in it.
type RemoveDir struct {
	Path string
}

func (c AddDir) ChangePath() string     { return c.Path }
func (c AddFile) ChangePath() string    { return c.Path }
func (c AddSymlink) ChangePath() string { return c.Path }
func (c RemoveFile) ChangePath() string { return c.Path }
func (c RemoveDir) ChangePath() string  { return c.Path }

func (AddDir) isChange()     {}
func (AddFile) isChange()    {}
func (AddSymlink) isChange() {}
func (RemoveFile) isChange() {}
func (RemoveDir) isChange()  {}

func (c AddDir) String() string {
	if c.IsNew {
		return fmt.Sprintf("add dir %s (new, %d bytes)", c.Path, c.SubtreeBytes)
	}
	return fmt.Sprintf("add dir %s (%d bytes)", c.Path, c.SubtreeBytes)
}

func (c AddFile) String() string {
	return fmt.Sprintf("add file %s (%d bytes)", c.Path, c.Record.Size)
}

func (c AddSymlink) String() string {
	return fmt.Sprintf("add symlink %s -> %s", c.Path, c.Link)
}

func (c RemoveFile) String() string { return "remove file " + c.Path }

func (c RemoveDir) String() string { return "remove dir " + c.Path }
