// Package apply executes diff changes against the target and the index.
//
// Every change first runs its target-side effect. Only when that succeeds is
// the index updated, so an interrupted or partially failed run leaves the
// index describing what actually reached the target, and the next diff
// reproduces whatever is missing.
package apply

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/schaermu/idxbackup/internal/diff"
	"github.com/schaermu/idxbackup/internal/tree"
)

// Progress is a snapshot of an apply run.
type Progress struct {
	ChangesDone  int
	ChangesTotal int
	BytesDone    uint64
	BytesTotal   uint64
}

// Option configures an Applier.
type Option func(*Applier)

// WithProgress registers fn to be called at the start of a run and after
// every change.
func WithProgress(fn func(Progress)) Option {
	return func(a *Applier) { a.onProgress = fn }
}

// WithTotalBytes overrides the byte total reported in Progress, which is
// otherwise the sum of all AddFile sizes.
func WithTotalBytes(n uint64) Option {
	return func(a *Applier) { a.totalBytes = &n }
}

// Applier applies changes from source to an optional target and the index.
type Applier struct {
	source tree.Tree
	index  tree.Tree
	target *tree.Tree
	logger *slog.Logger

	onProgress func(Progress)
	totalBytes *uint64
}

// New creates an Applier. target may be nil, in which case only the index
// is updated.
func New(source, index tree.Tree, target *tree.Tree, logger *slog.Logger, opts ...Option) *Applier {
	a := &Applier{
		source: source,
		index:  index,
		target: target,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Order returns the changes in execution order: symlink creations move
// after every other change, and relative order is otherwise preserved.
func Order(changes []diff.Change) []diff.Change {
	ordered := make([]diff.Change, 0, len(changes))
	var symlinks []diff.Change
	for _, c := range changes {
		if _, ok := c.(diff.AddSymlink); ok {
			symlinks = append(symlinks, c)
			continue
		}
		ordered = append(ordered, c)
	}
	return append(ordered, symlinks...)
}

// Apply executes changes and returns how many of them did not reach the
// target. Changes left unprocessed because ctx was cancelled count as
// failures.
func (a *Applier) Apply(ctx context.Context, changes []diff.Change) int {
	ordered := Order(changes)

	p := Progress{ChangesTotal: len(ordered)}
	if a.totalBytes != nil {
		p.BytesTotal = *a.totalBytes
	} else {
		p.BytesTotal = diff.Summarize(ordered).FileBytes
	}
	a.report(p)

	if len(ordered) == 0 {
		return 0
	}
	a.prepareRoots()

	failures := 0
	for i, c := range ordered {
		if err := ctx.Err(); err != nil {
			remaining := len(ordered) - i
			a.logger.Warn("apply interrupted, remaining changes stay pending",
				"remaining", remaining, "error", err)
			return failures + remaining
		}

		if !a.applyOne(c) {
			failures++
		}

		if f, ok := c.(diff.AddFile); ok {
			p.BytesDone += f.Record.Size
		}
		p.ChangesDone = i + 1
		a.report(p)
	}
	return failures
}

func (a *Applier) report(p Progress) {
	if a.onProgress != nil {
		a.onProgress(p)
	}
}

// prepareRoots creates the target and index roots, so changes at the top
// level have somewhere to go.
func (a *Applier) prepareRoots() {
	if a.target != nil {
		if err := a.target.MkdirAll(""); err != nil {
			a.logger.Warn("couldn't create target directory", "path", a.target.Root, "error", err)
		}
	}
	if err := a.index.MkdirAll(""); err != nil {
		a.logger.Warn("couldn't create index directory", "path", a.index.Root, "error", err)
	}
}

// applyOne runs one change and reports whether its target side succeeded.
func (a *Applier) applyOne(c diff.Change) bool {
	path := c.ChangePath()
	switch c := c.(type) {
	case diff.AddDir:
		if !c.IsNew {
			return true
		}
		if !a.onTarget("create directory", path, func(t tree.Tree) error { return t.MkdirAll(path) }) {
			return false
		}
		a.onIndex("create index directory", path, a.index.MkdirAll(path))

	case diff.AddFile:
		if !a.onTarget("copy file", path, func(t tree.Tree) error { return t.CopyFileFrom(a.source, path) }) {
			return false
		}
		a.onIndex("save index file", path, a.index.WriteFile(path, []byte(c.Record.Save())))

	case diff.AddSymlink:
		if !a.onTarget("create symlink", path, func(t tree.Tree) error { return t.Symlink(c.Link, path) }) {
			return false
		}
		a.onIndex("create index symlink", path, a.index.Symlink(c.Link, path))

	case diff.RemoveFile:
		if !a.onTarget("remove file", path, func(t tree.Tree) error { return ignoreNotExist(t.Remove(path)) }) {
			return false
		}
		a.onIndex("remove index file", path, ignoreNotExist(a.index.Remove(path)))

	case diff.RemoveDir:
		if !a.onTarget("remove directory", path, func(t tree.Tree) error { return t.RemoveAll(path) }) {
			return false
		}
		a.onIndex("remove index directory", path, a.index.RemoveAll(path))
	}
	return true
}

// onTarget runs fn against the target. Without a target there is nothing to
// do and the change counts as applied.
func (a *Applier) onTarget(op, path string, fn func(tree.Tree) error) bool {
	if a.target == nil {
		return true
	}
	if err := fn(*a.target); err != nil {
		a.logger.Warn("change failed, index left unchanged so the next run retries it",
			"op", op, "path", a.target.Path(path), "error", err)
		return false
	}
	return true
}

// onIndex logs a failed index update. The target already has the change,
// so the next run re-applies it.
func (a *Applier) onIndex(op, path string, err error) {
	if err != nil {
		a.logger.Warn("couldn't update index", "op", op, "path", a.index.Path(path), "error", err)
	}
}

func ignoreNotExist(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
