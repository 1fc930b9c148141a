package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/schaermu/idxbackup/internal/apply"
	"github.com/schaermu/idxbackup/internal/config"
	"github.com/schaermu/idxbackup/internal/diff"
	"github.com/schaermu/idxbackup/internal/ignore"
	"github.com/schaermu/idxbackup/internal/tree"
)

// Confirmer decides whether a plan gets applied
type Confirmer interface {
	Confirm(ctx context.Context, plan *Plan) (bool, error)
}

// ConfirmFunc adapts a function to a Confirmer
type ConfirmFunc func(ctx context.Context, plan *Plan) (bool, error)

// Confirm calls f
func (f ConfirmFunc) Confirm(ctx context.Context, plan *Plan) (bool, error) {
	return f(ctx, plan)
}

// Option configures an Engine
type Option func(*Engine)

// WithProgress forwards apply progress to fn
func WithProgress(fn func(apply.Progress)) Option {
	return func(e *Engine) { e.progress = fn }
}

// Engine orchestrates the backup process
type Engine struct {
	cfg      *config.Config
	fs       afero.Fs
	confirm  Confirmer
	logger   *slog.Logger
	dryRun   bool
	progress func(apply.Progress)
}

// NewEngine creates a new backup engine. confirm may be nil, in which case
// plans are applied without asking.
func NewEngine(cfg *config.Config, fs afero.Fs, confirm Confirmer, logger *slog.Logger, dryRun bool, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		fs:      fs,
		confirm: confirm,
		logger:  logger,
		dryRun:  dryRun,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the complete backup process
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting backup",
		"source", e.cfg.Paths.Source,
		"index", e.cfg.Paths.Index,
		"target", e.cfg.Paths.Target,
		"dry_run", e.dryRun)

	ign, err := e.loadIgnore()
	if err != nil {
		return nil, err
	}

	plan, err := e.buildPlan(ign)
	if err != nil {
		return nil, fmt.Errorf("failed to build backup plan: %w", err)
	}

	s := plan.Summary
	e.logger.Info("backup plan",
		"changes", s.Total(),
		"new_dirs", s.NewDirs,
		"files", s.AddFiles,
		"symlinks", s.AddSymlinks,
		"removed_files", s.RemoveFiles,
		"removed_dirs", s.RemoveDirs,
		"bytes", humanize.IBytes(plan.TotalBytes))

	result := &Result{Changes: plan.Changes, TotalBytes: plan.TotalBytes}
	if len(plan.Changes) == 0 {
		e.logger.Info("backup is up to date")
		return result, nil
	}

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return result, nil
	}

	if !plan.HasTarget {
		e.logger.Warn("no target configured, only the index will be updated")
	}

	if e.confirm != nil {
		ok, err := e.confirm.Confirm(ctx, plan)
		if err != nil {
			return result, fmt.Errorf("failed to confirm backup plan: %w", err)
		}
		if !ok {
			return result, ErrAborted
		}
	}

	result.Failures = e.applyPlan(ctx, plan)
	result.Applied = true

	if result.Failures > 0 {
		e.logger.Warn("backup finished with failures, rerun to retry them", "failures", result.Failures)
	} else {
		e.logger.Info("backup completed successfully")
	}
	return result, nil
}

// loadIgnore reads the configured ignore file. Without one nothing is ignored.
func (e *Engine) loadIgnore() (ignore.Ignore, error) {
	path := e.cfg.Paths.IgnoreFile
	if path == "" {
		return ignore.Ignore{}, nil
	}

	e.logger.Debug("loading ignore file", "path", path)
	ign, err := ignore.ParseFile(e.fs, path)
	if err != nil {
		return ignore.Ignore{}, &IgnoreError{Path: path, Err: err}
	}
	e.logger.Debug("ignore file loaded", "specifiers", len(ign.Specifiers))
	return ign, nil
}

// buildPlan diffs the source against the index
func (e *Engine) buildPlan(ign ignore.Ignore) (*Plan, error) {
	settings := e.cfg.Settings
	e.logger.Debug("diffing source against index", "order", settings.SortOrder().String())

	total, changes, err := diff.Perform(e.logger, e.fs,
		e.cfg.Paths.Source, e.cfg.Paths.Index, e.cfg.Paths.Target,
		ign, settings, settings.SortOrder())
	if err != nil {
		return nil, err
	}

	return &Plan{
		Changes:    changes,
		TotalBytes: total,
		Summary:    diff.Summarize(changes),
		HasTarget:  e.cfg.HasTarget(),
	}, nil
}

// applyPlan executes the backup plan and returns the number of failures
func (e *Engine) applyPlan(ctx context.Context, plan *Plan) int {
	var target *tree.Tree
	if plan.HasTarget {
		t := tree.New(e.fs, e.cfg.Paths.Target)
		target = &t
	}

	opts := []apply.Option{apply.WithTotalBytes(plan.TotalBytes)}
	if e.progress != nil {
		opts = append(opts, apply.WithProgress(e.progress))
	}

	applier := apply.New(
		tree.New(e.fs, e.cfg.Paths.Source),
		tree.New(e.fs, e.cfg.Paths.Index),
		target,
		e.logger,
		opts...,
	)
	return applier.Apply(ctx, plan.Changes)
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, c := range plan.Changes {
		switch c := c.(type) {
		case diff.AddDir:
			if c.IsNew {
				e.logger.Info("[dry-run] would create directory", "path", c.Path, "size", humanize.IBytes(c.SubtreeBytes))
			} else {
				e.logger.Debug("[dry-run] would update directory", "path", c.Path, "size", humanize.IBytes(c.SubtreeBytes))
			}
		case diff.AddFile:
			e.logger.Info("[dry-run] would copy file", "path", c.Path, "size", humanize.IBytes(c.Record.Size))
		case diff.AddSymlink:
			e.logger.Info("[dry-run] would create symlink", "path", c.Path, "link", c.Link)
		case diff.RemoveFile:
			e.logger.Info("[dry-run] would remove file", "path", c.Path)
		case diff.RemoveDir:
			e.logger.Info("[dry-run] would remove directory", "path", c.Path)
		}
	}
}
