package sync

import (
	"errors"
	"fmt"

	"github.com/schaermu/idxbackup/internal/diff"
)

// ErrAborted is returned when the confirmer declines a plan.
var ErrAborted = errors.New("backup aborted")

// Plan represents the backup operations to perform
type Plan struct {
	Changes    []diff.Change
	TotalBytes uint64 // bytes to copy
	Summary    diff.Summary
	HasTarget  bool // false when only the index is updated
}

// Result reports the outcome of a run
type Result struct {
	Changes    []diff.Change
	TotalBytes uint64
	Applied    bool // false for dry runs, empty plans and aborted runs
	Failures   int  // changes that did not reach the target
}

// IgnoreError is a failure to read or parse the ignore file.
type IgnoreError struct {
	Path string
	Err  error
}

func (e *IgnoreError) Error() string {
	return fmt.Sprintf("failed to load ignore file %s: %v", e.Path, e.Err)
}

func (e *IgnoreError) Unwrap() error { return e.Err }
