// Package diff compares a source tree against its index and produces the
// ordered list of changes that brings index and target up to date.
package diff

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/schaermu/idxbackup/internal/config"
	"github.com/schaermu/idxbackup/internal/ignore"
	"github.com/schaermu/idxbackup/internal/indexfile"
	"github.com/schaermu/idxbackup/internal/tree"
)

var (
	// ErrAmbiguousTransition is reported when a directory in the index has
	// been replaced by a symlink in the source.
	ErrAmbiguousTransition = errors.New("directory was replaced by a symlink")
	// ErrUnsupportedType is reported for devices, pipes and sockets.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrNotADirectory is reported when the index or target root exists but
	// is not a directory.
	ErrNotADirectory = errors.New("not a directory")
)

// Error is a failure to classify a node. It aborts the whole diff.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// kind is what the index last recorded for a name.
type kind int

const (
	kindUnseen kind = iota
	kindFile
	kindDir
	kindSymlink
)

type differ struct {
	source   tree.Tree
	index    tree.Tree
	ignore   ignore.Ignore
	settings config.Settings
	order    config.SortOrder
	logger   *slog.Logger
}

// dirResult is the outcome of diffing one directory. changes does not
// include the directory's own AddDir, which the parent emits.
type dirResult struct {
	bytes   uint64
	isNew   bool
	changes []Change
}

// batch is one child's additions, kept together while sorting.
type batch struct {
	bytes   uint64
	changes []Change
}

// Perform diffs source against index and returns the number of bytes that
// will be copied together with the changes in the order they should be
// applied. target may be empty. Index and target are never backed up when
// they live inside source.
func Perform(logger *slog.Logger, fs afero.Fs, source, index, target string, ign ignore.Ignore, settings config.Settings, order config.SortOrder) (uint64, []Change, error) {
	if err := checkRoot(fs, "index", index); err != nil {
		return 0, nil, err
	}
	if target != "" {
		if err := checkRoot(fs, "target", target); err != nil {
			return 0, nil, err
		}
	}

	if rel, ok := within(source, index); ok {
		logger.Info("source contains the index, excluding it from the backup", "path", rel)
		ign = ign.With(ignore.InDir{Dir: ignore.NewEq(rel)})
	}
	if target != "" {
		if rel, ok := within(source, target); ok {
			logger.Info("source contains the target, excluding it from the backup", "path", rel)
			ign = ign.With(ignore.InDir{Dir: ignore.NewEq(rel)})
		}
	}

	d := &differ{
		source:   tree.New(fs, source),
		index:    tree.New(fs, index),
		ignore:   ign,
		settings: settings,
		order:    order,
		logger:   logger,
	}
	res, err := d.dir("")
	if err != nil {
		return 0, nil, err
	}
	if res == nil {
		return 0, nil, nil
	}
	return res.bytes, res.changes, nil
}

// checkRoot fails when root exists and is not a directory. A missing root is
// fine, the applier creates it.
func checkRoot(fs afero.Fs, name, root string) error {
	fi, err := fs.Stat(root)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return &Error{Op: "checking " + name + " root", Path: root, Err: err}
	case !fi.IsDir():
		return &Error{Op: "checking " + name + " root", Path: root, Err: ErrNotADirectory}
	}
	return nil
}

// within returns the slash-separated path of p relative to root if p lies
// strictly inside root.
func within(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// dir diffs the directory rel. It returns nil when the directory already
// exists in the index and nothing below it changed.
func (d *differ) dir(rel string) (*dirResult, error) {
	prev, isNew, err := d.indexKinds(rel)
	if err != nil {
		return nil, err
	}

	names, err := d.source.ReadDirNames(rel)
	if err != nil {
		return nil, &Error{Op: "listing directory", Path: d.source.Path(rel), Err: err}
	}

	var (
		total     uint64
		removals  []Change
		additions []batch
	)
	for _, name := range names {
		childRel := filepath.Join(rel, name)
		fi, statErr := d.source.Lstat(childRel)

		entry := ignore.Entry{Path: filepath.ToSlash(childRel), Kind: ignore.KindUnknown}
		if statErr == nil {
			entry.Kind = ignore.KindOther
			if fi.IsDir() {
				entry.Kind = ignore.KindDir
			}
		}
		if d.ignore.MatchesOrDefault(entry) {
			continue
		}
		if statErr != nil {
			return nil, &Error{
				Op:   "reading metadata (its type is unknown, so only a * rule can ignore it)",
				Path: d.source.Path(childRel),
				Err:  statErr,
			}
		}

		was := prev[name]
		delete(prev, name)

		mode := fi.Mode()
		switch {
		case mode.IsDir():
			if was == kindFile || was == kindSymlink {
				removals = append(removals, RemoveFile{Path: childRel})
			}
			sub, err := d.dir(childRel)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				total += sub.bytes
				changes := append([]Change{AddDir{Path: childRel, IsNew: sub.isNew, SubtreeBytes: sub.bytes}}, sub.changes...)
				additions = append(additions, batch{bytes: sub.bytes, changes: changes})
			}

		case mode&os.ModeSymlink != 0:
			link, err := d.source.Readlink(childRel)
			if err != nil {
				return nil, &Error{Op: "reading symlink", Path: d.source.Path(childRel), Err: err}
			}
			switch was {
			case kindDir:
				return nil, &Error{Op: "classifying entry", Path: d.source.Path(childRel), Err: ErrAmbiguousTransition}
			case kindSymlink:
				old, err := d.index.Readlink(childRel)
				if err != nil {
					return nil, &Error{Op: "reading index symlink", Path: d.index.Path(childRel), Err: err}
				}
				if old == link {
					continue
				}
			case kindFile:
				removals = append(removals, RemoveFile{Path: childRel})
			}
			additions = append(additions, batch{changes: []Change{AddSymlink{Path: childRel, Link: link}}})

		case mode.IsRegular():
			switch was {
			case kindDir:
				removals = append(removals, RemoveDir{Path: childRel})
			case kindSymlink:
				removals = append(removals, RemoveFile{Path: childRel})
			}
			next := indexfile.FromFileInfo(fi)
			if was == kindFile {
				old, err := indexfile.FromPath(d.index.Fs, d.index.Path(childRel))
				if err == nil && !ShouldUpdate(next, old, d.settings) {
					continue
				}
				if err != nil {
					d.logger.Debug("no usable index record, re-adding file", "path", childRel, "error", err)
				}
			}
			total += next.Size
			additions = append(additions, batch{bytes: next.Size, changes: []Change{AddFile{Path: childRel, Record: next}}})

		default:
			return nil, &Error{Op: "classifying entry", Path: d.source.Path(childRel), Err: fmt.Errorf("%w: %s", ErrUnsupportedType, mode.Type())}
		}
	}

	// Whatever the index still holds is gone from the source.
	gone := make([]string, 0, len(prev))
	for name := range prev {
		gone = append(gone, name)
	}
	sort.Strings(gone)
	for _, name := range gone {
		childRel := filepath.Join(rel, name)
		if prev[name] == kindDir {
			removals = append(removals, RemoveDir{Path: childRel})
		} else {
			removals = append(removals, RemoveFile{Path: childRel})
		}
	}

	switch d.order {
	case config.SortLargestFirst:
		sort.SliceStable(additions, func(i, j int) bool { return additions[i].bytes > additions[j].bytes })
	case config.SortSmallestFirst:
		sort.SliceStable(additions, func(i, j int) bool { return additions[i].bytes < additions[j].bytes })
	}

	if !isNew && len(removals) == 0 && len(additions) == 0 {
		return nil, nil
	}

	changes := removals
	for _, b := range additions {
		changes = append(changes, b.changes...)
	}
	return &dirResult{bytes: total, isNew: isNew, changes: changes}, nil
}

// indexKinds lists what the index recorded in directory rel. A directory
// missing from the index is new and has no children.
func (d *differ) indexKinds(rel string) (map[string]kind, bool, error) {
	stat := d.index.Lstat
	if rel == "" {
		// The index root itself may be a symlink to the real location.
		stat = func(string) (os.FileInfo, error) { return d.index.Fs.Stat(d.index.Root) }
	}
	fi, err := stat(rel)
	if err != nil || !fi.IsDir() {
		return map[string]kind{}, true, nil
	}

	infos, err := d.index.ReadDir(rel)
	if err != nil {
		return nil, false, &Error{Op: "listing index directory", Path: d.index.Path(rel), Err: err}
	}

	kinds := make(map[string]kind, len(infos))
	for _, info := range infos {
		switch {
		case info.IsDir():
			kinds[info.Name()] = kindDir
		case info.Mode()&os.ModeSymlink != 0:
			kinds[info.Name()] = kindSymlink
		default:
			kinds[info.Name()] = kindFile
		}
	}
	return kinds, false, nil
}
