// Package ignore implements the rule language used to exclude paths from a
// backup.
//
// A document is a list of specifiers, one per line. Later specifiers take
// priority over earlier ones. Nested blocks are introduced by indentation:
//
//	# ignore everything called "cache" ...
//	*= cache
//	# ... and all files ending in .tmp, except inside "keep/"
//	+* **.tmp
//	/= keep
//	  except
//	    +* **.tmp
package ignore

import (
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// Kind describes what is known about an entry's type.
type Kind int

const (
	// KindUnknown is used when the entry's metadata could not be read.
	KindUnknown Kind = iota
	KindDir
	KindOther
)

// Entry is a path queried against the rules. Path is relative to the
// source root and slash-separated.
type Entry struct {
	Path string
	Kind Kind
}

// Ignore is an ordered list of specifiers; later ones override earlier ones.
type Ignore struct {
	Specifiers []Specifier
}

// Specifier produces a verdict for an entry, or nothing.
type Specifier interface {
	// match returns (ignored, true) when the specifier has a verdict.
	match(e Entry) (bool, bool)
}

// Except inverts the verdicts of its inner rules.
type Except struct {
	Inner Ignore
}

// Entries ignores any matching path, whatever its kind.
type Entries struct {
	Match Match
}

// Files ignores matching paths that are known not to be directories.
type Files struct {
	Match Match
}

// InDir either ignores matching directories (empty Inner) or applies Inner
// to paths relative to every matching ancestor directory.
type InDir struct {
	Dir   Match
	Inner Ignore
}

// Match tests a path.
type Match interface {
	Matches(p string) bool
}

// Any matches every path.
type Any struct{}

// Eq matches one exact path.
type Eq struct {
	Path string
}

// Glob matches a glob pattern where '*' stops at '/' and '**' does not. A
// "**/" component also matches zero directories, so "**/x" matches "x" and
// "a/**/x" matches "a/x".
type Glob struct {
	Pattern string
	gs      []glob.Glob
}

func (Any) Matches(string) bool { return true }

func (m Eq) Matches(p string) bool { return m.Path == p }

func (m Glob) Matches(p string) bool {
	for _, g := range m.gs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// NewEq returns an Eq for the cleaned, slash-separated form of p.
func NewEq(p string) Eq {
	return Eq{Path: path.Clean(strings.ReplaceAll(p, "\\", "/"))}
}

// NewGlob compiles pattern along with every variant that has "**/"
// components collapsed.
func NewGlob(pattern string) (Glob, error) {
	variants := globVariants(pattern)
	gs := make([]glob.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return Glob{}, err
		}
		gs = append(gs, g)
	}
	return Glob{Pattern: pattern, gs: gs}, nil
}

// globVariants returns pattern followed by each distinct pattern obtained by
// dropping one or more "**/" components.
func globVariants(pattern string) []string {
	out := []string{pattern}
	seen := map[string]bool{pattern: true}
	for i := 0; i < len(out); i++ {
		p := out[i]
		for j := 0; j+3 <= len(p); j++ {
			if p[j:j+3] != "**/" || (j > 0 && p[j-1] != '/') {
				continue
			}
			v := p[:j] + p[j+3:]
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Matches returns the verdict of the highest-priority specifier that has
// one. ok is false when no specifier applies.
func (ig Ignore) Matches(e Entry) (ignored bool, ok bool) {
	return ig.matchesAny([]Entry{e})
}

// MatchesOrDefault reports whether e is ignored, defaulting to false.
func (ig Ignore) MatchesOrDefault(e Entry) bool {
	ignored, _ := ig.Matches(e)
	return ignored
}

// matchesAny scans specifiers from last to first and, for each, tries every
// entry in order. The first verdict found wins.
func (ig Ignore) matchesAny(entries []Entry) (bool, bool) {
	for i := len(ig.Specifiers) - 1; i >= 0; i-- {
		for _, e := range entries {
			if v, ok := ig.Specifiers[i].match(e); ok {
				return v, true
			}
		}
	}
	return false, false
}

// With returns a copy of ig with extra specifiers at the highest priority.
func (ig Ignore) With(specs ...Specifier) Ignore {
	out := make([]Specifier, 0, len(ig.Specifiers)+len(specs))
	out = append(out, ig.Specifiers...)
	out = append(out, specs...)
	return Ignore{Specifiers: out}
}

func (s Except) match(e Entry) (bool, bool) {
	v, ok := s.Inner.Matches(e)
	if !ok {
		return false, false
	}
	return !v, true
}

func (s Entries) match(e Entry) (bool, bool) {
	return true, s.Match.Matches(e.Path)
}

func (s Files) match(e Entry) (bool, bool) {
	return true, e.Kind == KindOther && s.Match.Matches(e.Path)
}

func (s InDir) match(e Entry) (bool, bool) {
	if len(s.Inner.Specifiers) == 0 {
		return true, e.Kind == KindDir && s.Dir.Matches(e.Path)
	}
	// Candidates are ordered nearest ancestor first.
	var candidates []Entry
	for parent, ok := parentOf(e.Path); ok; parent, ok = parentOf(parent) {
		if !s.Dir.Matches(parent) {
			continue
		}
		rel := e.Path
		if parent != "" {
			rel = strings.TrimPrefix(e.Path, parent+"/")
		}
		candidates = append(candidates, Entry{Path: rel, Kind: e.Kind})
	}
	return s.Inner.matchesAny(candidates)
}

// parentOf returns the parent of a relative slash path. The parent of a
// top-level name is the root "", which itself has no parent.
func parentOf(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i], true
	}
	return "", true
}
