package ignore

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/afero"
)

// ParseError describes a malformed ignore document.
type ParseError struct {
	Line int // 1-based
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ParseFile reads and parses the ignore document at path.
func ParseFile(fs afero.Fs, path string) (Ignore, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Ignore{}, fmt.Errorf("failed to read ignore file: %w", err)
	}
	return Parse(string(data))
}

// Parse parses an ignore document.
func Parse(text string) (Ignore, error) {
	p := &parser{lines: splitLines(text)}
	ig, err := p.block(0)
	if err != nil {
		return Ignore{}, err
	}
	return ig, nil
}

type parser struct {
	lines []string
	pos   int
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// block parses lines until one is indented by less than minIndent. The first
// line of the block fixes the indentation of all its siblings.
func (p *parser) block(minIndent int) (Ignore, error) {
	var (
		ig     Ignore
		indent = -1
	)
	for ; p.pos < len(p.lines); p.pos++ {
		lineNr := p.pos + 1
		full := p.lines[p.pos]
		line := strings.TrimLeftFunc(full, unicode.IsSpace)

		// Blank lines and comments don't take part in indentation.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lead := full[:len(full)-len(line)]
		if i := strings.IndexFunc(lead, func(r rune) bool { return r != ' ' }); i >= 0 {
			r := []rune(lead[i:])[0]
			return Ignore{}, &ParseError{Line: lineNr, Msg: fmt.Sprintf(
				"lines must be indented with spaces only, found %q (%U)", r, r)}
		}
		lineIndent := len(lead)
		if lineIndent < minIndent {
			break
		}
		if indent < 0 {
			indent = lineIndent
		} else if lineIndent != indent {
			return Ignore{}, &ParseError{Line: lineNr, Msg: fmt.Sprintf(
				"inconsistent indentation: expected %d spaces, found %d", indent, lineIndent)}
		}

		directive, arg := line, ""
		if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
			directive, arg = line[:i], strings.TrimSpace(line[i:])
		}

		spec, err := p.specifier(strings.ToLower(directive), arg, indent, lineNr)
		if err != nil {
			return Ignore{}, err
		}
		ig.Specifiers = append(ig.Specifiers, spec)
	}
	return ig, nil
}

// specifier builds the specifier for one line. Nested blocks start on the
// following line, so the cursor is advanced before recursing.
func (p *parser) specifier(directive, arg string, indent, lineNr int) (Specifier, error) {
	if directive == "except" {
		inner, err := p.nested(indent)
		if err != nil {
			return nil, err
		}
		return Except{Inner: inner}, nil
	}

	var kind, matchKind rune = ' ', ' '
	runes := []rune(directive)
	if len(runes) > 0 {
		kind = runes[0]
	}
	if len(runes) > 1 {
		matchKind = runes[1]
	}

	switch kind {
	case '*', '+', '/':
	default:
		return nil, &ParseError{Line: lineNr, Msg: fmt.Sprintf(
			"unknown directive %q, expected one of [*+/][a=*] or except", directive)}
	}

	m, err := parseMatch(matchKind, arg, lineNr)
	if err != nil {
		return nil, err
	}

	switch kind {
	case '*':
		return Entries{Match: m}, nil
	case '+':
		return Files{Match: m}, nil
	default:
		inner, err := p.nested(indent)
		if err != nil {
			return nil, err
		}
		return InDir{Dir: m, Inner: inner}, nil
	}
}

func (p *parser) nested(indent int) (Ignore, error) {
	p.pos++
	inner, err := p.block(indent + 1)
	// block stops on the first line that isn't its own; step back so the
	// caller's loop increment lands on it.
	p.pos--
	return inner, err
}

func parseMatch(m rune, arg string, lineNr int) (Match, error) {
	switch m {
	case 'a':
		return Any{}, nil
	case '=':
		return NewEq(arg), nil
	case '*':
		g, err := NewGlob(arg)
		if err != nil {
			return nil, &ParseError{Line: lineNr, Msg: fmt.Sprintf("invalid glob %q: %v", arg, err)}
		}
		return g, nil
	default:
		return nil, &ParseError{Line: lineNr, Msg: fmt.Sprintf(
			"unknown match type %q, expected one of [a=*]", m)}
	}
}
