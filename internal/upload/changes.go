package upload

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"pault.ag/go/debian/version"

	"github.com/frederic-klein/soyuz/internal/archive"
	"github.com/frederic-klein/soyuz/internal/tagfile"
)

const (
	DefaultFormat = 1.5
	MinFormat     = 1.5
	MaxFormat     = 2.0
)

var mandatoryFields = []string{
	"source", "binary", "architecture", "version",
	"distribution", "maintainer", "files", "changes",
}

var changesFilenameRe = regexp.MustCompile(`^([^_/]+)_([^_/]+)_([^_/]+)\.changes$`)

// ChangesFilename is the decomposed <package>_<version>_<archtag>.changes.
type ChangesFilename struct {
	Package string
	Version string
	Arch    string
}

// ParseChangesFilename validates a changes filename.
func ParseChangesFilename(name string) (ChangesFilename, error) {
	m := changesFilenameRe.FindStringSubmatch(name)
	if m == nil {
		return ChangesFilename{}, fmt.Errorf("%q is not a valid changes filename, expected <package>_<version>_<arch>.changes", name)
	}
	return ChangesFilename{Package: m[1], Version: m[2], Arch: m[3]}, nil
}

// Signer identifies who signed an upload.
type Signer struct {
	Fingerprint string
	Identity    string
	ValidUntil  time.Time
}

// SignatureVerifier checks an OpenPGP signature over raw bytes.
type SignatureVerifier interface {
	Verify(data []byte) (*Signer, error)
}

// ContentSource returns the bytes of files named in a manifest.
type ContentSource interface {
	Open(filename string) (io.ReadCloser, error)
}

// Changes is one parsed upload: the changes stanza plus everything derived
// from it. It is built by ParseChanges and completed by Verify.
type Changes struct {
	Filename   string
	Name       ChangesFilename
	Stanza     *tagfile.Stanza
	Format     float64
	Version    version.Version
	Maintainer Person
	ChangedBy  Person
	Signer     *Signer
	Urgency    Urgency

	archs       []string
	binaryNames []string

	entries  []ManifestEntry
	sources  []SourceFile
	binaries []BinaryFile
	customs  []CustomFile
	dsc      *SourceFile

	warnings   []Warning
	rejections []error
}

// ParseOptions controls the parse phase.
type ParseOptions struct {
	// AllowUnsigned accepts changes content outside a PGP envelope.
	AllowUnsigned bool
	// Verifier, when set and AllowUnsigned is false, must identify a signer.
	Verifier SignatureVerifier
}

// ParseChanges runs the parse phase. Every failure is a *ParseError.
func ParseChanges(filename string, data []byte, opts ParseOptions) (*Changes, error) {
	base := filepath.Base(filename)
	fail := func(err error) (*Changes, error) {
		return nil, &ParseError{Filename: base, Err: err}
	}

	name, err := ParseChangesFilename(base)
	if err != nil {
		return fail(err)
	}

	stanza, err := tagfile.Parse(data, base, tagfile.Options{AllowUnsigned: opts.AllowUnsigned})
	if err != nil {
		return fail(err)
	}

	if missing := missingFields(stanza); len(missing) > 0 {
		return fail(fmt.Errorf("missing mandatory fields: %s", strings.Join(missing, ", ")))
	}

	c := &Changes{Filename: base, Name: name, Stanza: stanza}

	if c.Format, err = parseFormat(stanza.Value("format")); err != nil {
		return fail(err)
	}

	if c.Maintainer, err = ParsePerson(stanza.Value("maintainer")); err != nil {
		return fail(fmt.Errorf("Maintainer: %w", err))
	}
	c.ChangedBy = c.Maintainer
	if raw, ok := stanza.Get("changed-by"); ok {
		if c.ChangedBy, err = ParsePerson(raw); err != nil {
			return fail(fmt.Errorf("Changed-By: %w", err))
		}
	}

	if source := stanza.Value("source"); source != name.Package {
		return fail(fmt.Errorf("Source %q does not match filename package %q", source, name.Package))
	}

	if c.Version, err = version.Parse(strings.TrimSpace(stanza.Value("version"))); err != nil {
		return fail(fmt.Errorf("Version: %w", err))
	}
	if unepoched := stripEpoch(c.Version); unepoched != name.Version {
		return fail(fmt.Errorf("Version %q does not match filename version %q", unepoched, name.Version))
	}

	if opts.Verifier != nil && !opts.AllowUnsigned {
		if c.Signer, err = opts.Verifier.Verify(data); err != nil {
			return fail(fmt.Errorf("verifying signature: %w", err))
		}
	}

	return c, nil
}

func missingFields(s *tagfile.Stanza) []string {
	var missing []string
	for _, f := range mandatoryFields {
		if !s.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// MandatoryFieldsPresent reports whether every mandatory changes field is
// present in s.
func MandatoryFieldsPresent(s *tagfile.Stanza) bool {
	return len(missingFields(s)) == 0
}

func parseFormat(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultFormat, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("Format %q is not a decimal", raw)
	}
	if f < MinFormat || f > MaxFormat {
		return 0, fmt.Errorf("Format %s is not supported, must be between %.1f and %.1f", raw, MinFormat, MaxFormat)
	}
	return f, nil
}

func stripEpoch(v version.Version) string {
	v.Epoch = 0
	return v.String()
}

// Source returns the source package name.
func (c *Changes) Source() string { return c.Stanza.Value("source") }

// Suite returns the Distribution field, e.g. "jammy-updates".
func (c *Changes) Suite() string { return strings.TrimSpace(c.Stanza.Value("distribution")) }

// Architectures returns the declared architectures, sorted, including the
// "source" pseudo-architecture if present.
func (c *Changes) Architectures() []string { return c.archs }

// BinaryNames returns the declared binary package names, sorted.
func (c *Changes) BinaryNames() []string { return c.binaryNames }

// Entries returns every classified manifest entry, in manifest order.
func (c *Changes) Entries() []ManifestEntry { return c.entries }

func (c *Changes) Sources() []SourceFile  { return c.sources }
func (c *Changes) Binaries() []BinaryFile { return c.binaries }
func (c *Changes) Customs() []CustomFile  { return c.customs }

// Dsc returns the single .dsc in the upload, or nil.
func (c *Changes) Dsc() *SourceFile { return c.dsc }

// Sourceful reports whether the upload carries source artifacts.
func (c *Changes) Sourceful() bool { return len(c.sources) > 0 }

// Binaryful reports whether the upload carries .deb or .udeb files.
func (c *Changes) Binaryful() bool { return len(c.binaries) > 0 }

// Signed reports whether the parse phase identified a signer.
func (c *Changes) Signed() bool { return c.Signer != nil }

// FileComponents returns the components of source and binary files.
func (c *Changes) FileComponents() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(comp string) {
		if !seen[comp] {
			seen[comp] = true
			out = append(out, comp)
		}
	}
	for _, f := range c.sources {
		add(f.Component)
	}
	for _, f := range c.binaries {
		add(f.Component)
	}
	sort.Strings(out)
	return out
}

// Warnings returns the non-fatal notes recorded so far.
func (c *Changes) Warnings() []Warning { return c.warnings }

// Rejections returns the errors that block acceptance.
func (c *Changes) Rejections() []error { return c.rejections }

func (c *Changes) warn(format string, args ...interface{}) {
	c.warnings = append(c.warnings, Warning{Msg: fmt.Sprintf(format, args...)})
}

func (c *Changes) reject(err error) {
	c.rejections = append(c.rejections, err)
}

// Reject records an externally detected problem, e.g. a policy violation.
func (c *Changes) Reject(err error) {
	if err != nil {
		c.reject(err)
	}
}

func tokenSet(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.Fields(s) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Pocket returns the pocket encoded in the Distribution field.
func (c *Changes) Pocket() archive.Pocket {
	_, p := archive.ParseSuite(c.Suite())
	return p
}

// Series returns the series encoded in the Distribution field.
func (c *Changes) Series() string {
	s, _ := archive.ParseSuite(c.Suite())
	return s
}

var errNoFiles = errors.New("no files found in changes")
