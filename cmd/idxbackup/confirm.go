package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/schaermu/idxbackup/internal/sync"
)

// promptConfirmer lists the plan and asks on the terminal before applying it.
type promptConfirmer struct {
	in      io.Reader
	prompt  io.Writer // prompts and warnings
	listing io.Writer // the change listing
	reverse bool
	yes     bool // apply without asking
}

func (c *promptConfirmer) Confirm(_ context.Context, plan *sync.Plan) (bool, error) {
	printChanges(c.listing, plan.Changes, plan.TotalBytes, c.reverse)
	if c.yes {
		return true, nil
	}

	scanner := bufio.NewScanner(c.in)
	for {
		if plan.HasTarget {
			fmt.Fprintln(c.prompt, "Exclude unwanted directories/files using --ignore,\nor press enter to apply the changes (type 'exit' to abort).")
		} else {
			fmt.Fprintln(c.prompt, "[WARN] No target directory is set!\n"+
				"[WARN] The index will be updated without copying anything.\n"+
				"Type 'ok' and press enter to continue, or 'exit' to abort.")
		}

		if !scanner.Scan() {
			// stdin closed
			return false, scanner.Err()
		}
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "exit" {
			return false, nil
		}
		if plan.HasTarget || line == "ok" {
			return true, nil
		}
	}
}
