package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/schaermu/idxbackup/internal/apply"
	"github.com/schaermu/idxbackup/internal/diff"
)

// printChanges lists changes followed by a per-kind summary. Reversed output
// puts the top-level entries last, next to the prompt.
func printChanges(w io.Writer, changes []diff.Change, totalBytes uint64, reverse bool) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "found no changes.")
		return
	}

	fmt.Fprintf(w, "found %d changes:\n", len(changes))
	if reverse {
		for i := len(changes) - 1; i >= 0; i-- {
			fmt.Fprintln(w, formatChange(changes[i], true))
		}
	} else {
		for _, c := range changes {
			fmt.Fprintln(w, formatChange(c, false))
		}
	}

	s := diff.Summarize(changes)
	fmt.Fprintln(w, " - - - - -")
	fmt.Fprintf(w, " %s>> add directory | %dx (%d new)\n", dirMarker(reverse), s.AddDirs, s.NewDirs)
	fmt.Fprintf(w, "  +  add/update file | %dx (%s)\n", s.AddFiles, humanize.IBytes(totalBytes))
	fmt.Fprintf(w, "  ~  add symlink | %dx\n", s.AddSymlinks)
	fmt.Fprintf(w, "  -  remove file | %dx\n", s.RemoveFiles)
	fmt.Fprintf(w, " [-] remove directory (and all contents!) | %dx\n", s.RemoveDirs)
}

func dirMarker(reverse bool) string {
	if reverse {
		return "^"
	}
	return "v"
}

func formatChange(c diff.Change, reverse bool) string {
	switch c := c.(type) {
	case diff.AddDir:
		return fmt.Sprintf("%s>>  %s    [%s]", dirMarker(reverse), dirPath(c.Path), humanize.IBytes(c.SubtreeBytes))
	case diff.AddFile:
		return fmt.Sprintf("  +  %s    (%s)", c.Path, humanize.IBytes(c.Record.Size))
	case diff.AddSymlink:
		return fmt.Sprintf("  ~  %s -> %s", c.Path, c.Link)
	case diff.RemoveFile:
		return fmt.Sprintf("  -  %s", c.Path)
	case diff.RemoveDir:
		return fmt.Sprintf(" [-] %s", dirPath(c.Path))
	default:
		return c.String()
	}
}

func dirPath(p string) string {
	if strings.HasSuffix(p, "/") || strings.HasSuffix(p, "\\") {
		return p
	}
	return p + "/"
}

// progressPrinter renders apply progress as a single updating line.
type progressPrinter struct {
	w io.Writer
}

func (p *progressPrinter) Update(pr apply.Progress) {
	if pr.ChangesTotal == 0 {
		return
	}
	fmt.Fprintf(p.w, "\rapplying changes: %d/%d, %s of %s copied",
		pr.ChangesDone, pr.ChangesTotal, humanize.IBytes(pr.BytesDone), humanize.IBytes(pr.BytesTotal))
	if pr.ChangesDone == pr.ChangesTotal {
		fmt.Fprintln(p.w)
	}
}
