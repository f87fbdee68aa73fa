package tagfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	beginSignedMessage = "-----BEGIN PGP SIGNED MESSAGE"
	beginSignature     = "-----BEGIN PGP SIGNATURE"

	maxLineLength = 1 << 20
)

var fieldRe = regexp.MustCompile(`^(\S+)\s*:\s*(.*)`)

// ParseError reports a malformed tag file.
type ParseError struct {
	Filename string
	Line     int
	Msg      string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", e.Filename, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Filename, e.Msg)
}

// Options controls how strictly the PGP envelope is checked.
type Options struct {
	// DscWhitespaceRules enables strict mode: the armor header block is
	// skipped, and the first blank line ends the data, after which the
	// signature must start immediately.
	DscWhitespaceRules bool
	// AllowUnsigned processes lines outside a signed message.
	AllowUnsigned bool
}

type state int

const (
	statePreamble state = iota
	stateArmorHeader
	stateBody
	stateAwaitSignature
	stateDone
)

func (s state) String() string {
	switch s {
	case statePreamble:
		return "preamble"
	case stateArmorHeader:
		return "armor-header"
	case stateBody:
		return "body"
	case stateAwaitSignature:
		return "await-signature"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// continuation describes how the next continuation line joins the
// current field.
type continuation int

const (
	// continueNone: no field is open.
	continueNone continuation = iota
	// continueFirst: the field was opened with an empty value; the next
	// continuation line is left-stripped and joined without a separator.
	continueFirst
	// continueMore: continuation lines are joined with a newline and kept
	// verbatim.
	continueMore
)

// Parser reads Debian control-file stanzas (.changes, .dsc).
type Parser struct {
	opts Options
}

// NewParser creates a tag file parser.
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts}
}

// Parse reads one stanza from r. filename is used in error messages.
func (p *Parser) Parse(r io.Reader, filename string) (*Stanza, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	return p.ParseBytes(data, filename)
}

// ParseBytes parses one stanza from data.
func (p *Parser) ParseBytes(data []byte, filename string) (*Stanza, error) {
	m := &machine{
		opts:     p.opts,
		filename: filename,
		stanza:   newStanza(),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() && m.state != stateDone {
		m.line++
		if err := m.step(strings.TrimSuffix(scanner.Text(), "\r")); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	if err := m.finish(); err != nil {
		return nil, err
	}

	m.stanza.Raw = data
	if !m.stanza.add(FileContents, string(data)) {
		return nil, m.errorf("duplicate field %q", FileContents)
	}
	return m.stanza, nil
}

// Parse parses data with a default parser configured by opts.
func Parse(data []byte, filename string, opts Options) (*Stanza, error) {
	return NewParser(opts).ParseBytes(data, filename)
}

// machine holds the per-input parse state.
type machine struct {
	opts     Options
	filename string
	stanza   *Stanza

	state           state
	insideSignature bool
	line            int

	field string
	cont  continuation

	unparsed strings.Builder
}

func (m *machine) errorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Filename: m.filename, Line: m.line, Msg: fmt.Sprintf(format, args...)}
}

func (m *machine) step(line string) error {
	switch m.state {
	case stateArmorHeader:
		// Hash: and friends, up to and including the blank line.
		if line == "" {
			m.state = stateBody
		}
		return nil

	case stateAwaitSignature:
		if !strings.HasPrefix(line, beginSignature) {
			return m.errorf("invalid .dsc file: expected PGP signature after blank line")
		}
		m.insideSignature = false
		m.state = stateDone
		return nil
	}

	if strings.HasPrefix(line, beginSignedMessage) {
		m.insideSignature = true
		m.closeField()
		// Outside the dsc rules, armor headers such as "Hash: SHA256" are
		// read as ordinary fields. A signed stanza that carries its own
		// Hash field therefore fails as a duplicate.
		if m.opts.DscWhitespaceRules {
			m.state = stateArmorHeader
		} else {
			m.state = stateBody
		}
		return nil
	}

	if strings.HasPrefix(line, beginSignature) {
		m.state = stateDone
		return nil
	}

	if !m.insideSignature && !m.opts.AllowUnsigned {
		return nil
	}
	m.state = stateBody

	if line == "" {
		if m.opts.DscWhitespaceRules && m.insideSignature {
			m.state = stateAwaitSignature
		}
		return nil
	}

	if match := fieldRe.FindStringSubmatch(line); match != nil {
		return m.openField(match[1], match[2])
	}

	if line == " ." {
		return m.continueField(line, true)
	}

	if line[0] == ' ' || line[0] == '\t' {
		return m.continueField(line, false)
	}

	m.unparsed.WriteString(line)
	m.unparsed.WriteByte('\n')
	return nil
}

func (m *machine) openField(name, value string) error {
	if !m.stanza.add(name, value) {
		return m.errorf("duplicate field %q", name)
	}
	m.field = name
	if value == "" {
		m.cont = continueFirst
	} else {
		m.cont = continueMore
	}
	return nil
}

func (m *machine) continueField(line string, verbatim bool) error {
	if m.cont == continueNone {
		return m.errorf("could not parse line %q: multi-line field continuing from nothing", line)
	}
	switch {
	case m.cont == continueFirst && verbatim:
		m.stanza.appendTo(m.field, line)
	case m.cont == continueFirst:
		m.stanza.appendTo(m.field, strings.TrimLeft(line, " \t"))
	default:
		m.stanza.appendTo(m.field, "\n"+line)
	}
	m.cont = continueMore
	return nil
}

func (m *machine) closeField() {
	m.field = ""
	m.cont = continueNone
}

func (m *machine) finish() error {
	if m.state == stateAwaitSignature {
		return m.errorf("invalid .dsc file: expected PGP signature after blank line, got end of input")
	}
	if m.opts.DscWhitespaceRules && m.insideSignature {
		return m.errorf("invalid .dsc format: signed data is not followed by a PGP signature")
	}
	if m.unparsed.Len() > 0 {
		return &ParseError{
			Filename: m.filename,
			Msg:      "unable to parse: " + strings.TrimSuffix(m.unparsed.String(), "\n"),
		}
	}
	return nil
}
