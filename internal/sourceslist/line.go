// Package sourceslist reads and writes APT sources.list entries.
package sourceslist

import (
	"fmt"
	"net/url"
	"strings"
)

// Line is one "deb URL suite component..." entry.
type Line struct {
	Type       string
	URL        string
	Suite      string
	Components []string
}

// NewLine returns a binary ("deb") entry.
func NewLine(url, suite string, components ...string) Line {
	return Line{Type: "deb", URL: url, Suite: suite, Components: components}
}

func (l Line) String() string {
	typ := l.Type
	if typ == "" {
		typ = "deb"
	}
	return fmt.Sprintf("%s %s %s %s", typ, l.URL, l.Suite, strings.Join(l.Components, " "))
}

// Redacted returns the line with any password in the URL masked.
func (l Line) Redacted() string {
	u, err := url.Parse(l.URL)
	if err != nil || u.User == nil {
		return l.String()
	}
	r := l
	r.URL = u.Redacted()
	return r.String()
}

// Parse parses a single sources.list line. Comments and blank lines are
// not accepted here; use ParseAll for whole files.
func Parse(s string) (Line, error) {
	fields := strings.Fields(s)
	if len(fields) < 4 {
		return Line{}, fmt.Errorf("sources.list line %q: want type, url, suite and at least one component", s)
	}
	switch fields[0] {
	case "deb", "deb-src":
	default:
		return Line{}, fmt.Errorf("sources.list line %q: unknown type %q", s, fields[0])
	}
	if _, err := url.Parse(fields[1]); err != nil {
		return Line{}, fmt.Errorf("sources.list line %q: %w", s, err)
	}
	return Line{Type: fields[0], URL: fields[1], Suite: fields[2], Components: fields[3:]}, nil
}

// ParseAll parses every entry in text, skipping comments and blank lines.
func ParseAll(text string) ([]Line, error) {
	var lines []Line
	for i, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		l, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Diff compares an existing file's entries against the wanted ones.
// Entries are matched by their rendered form; order is not compared.
func Diff(want, have []Line) (missing, extra []Line) {
	seen := make(map[string]bool, len(have))
	for _, l := range have {
		seen[l.String()] = true
	}
	wanted := make(map[string]bool, len(want))
	for _, l := range want {
		wanted[l.String()] = true
		if !seen[l.String()] {
			missing = append(missing, l)
		}
	}
	for _, l := range have {
		if !wanted[l.String()] {
			extra = append(extra, l)
		}
	}
	return missing, extra
}
