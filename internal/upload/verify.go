package upload

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/frederic-klein/soyuz/internal/tagfile"
)

// VerifyOptions carries the policy switches the verify phase needs.
type VerifyOptions struct {
	// RequireSignature rejects changes without an identified signer.
	RequireSignature bool
	// UnsignedDscOK accepts a .dsc outside a PGP envelope.
	UnsignedDscOK bool
	// AllowUnknownFiles drops unclassifiable files with a warning instead
	// of rejecting the upload.
	AllowUnknownFiles bool

	FutureTimeGrace        time.Duration
	EarliestAcceptableYear int

	// Content, when set, is used to check sizes and checksums and to read
	// the .dsc.
	Content  ContentSource
	Verifier SignatureVerifier
	Now      func() time.Time
}

// Verify runs the verify phase. Problems are collected on c; the returned
// error is non-nil only for a malformed Files field, which is fatal.
func (c *Changes) Verify(opts VerifyOptions) error {
	if err := c.verifyFiles(opts); err != nil {
		return err
	}

	c.archs = tokenSet(c.Stanza.Value("architecture"))
	c.binaryNames = tokenSet(c.Stanza.Value("binary"))

	c.Urgency = UrgencyLow
	if raw, ok := c.Stanza.Get("urgency"); ok {
		u, known := ParseUrgency(raw)
		if !known {
			c.warn("unrecognised urgency %q, defaulting to low", strings.TrimSpace(raw))
		}
		c.Urgency = u
	}

	if opts.RequireSignature && c.Signer == nil {
		c.reject(fmt.Errorf("%s: changes file is not signed", c.Filename))
	}

	c.verifyDate(opts)

	if opts.Content != nil {
		for _, e := range c.entries {
			if err := checkSizeAndChecksum(opts.Content, e); err != nil {
				c.reject(err)
			}
		}
		if c.dsc != nil {
			c.verifyDsc(opts)
		}
	}
	return nil
}

func (c *Changes) verifyFiles(opts VerifyOptions) error {
	for _, line := range strings.Split(c.Stanza.Value("files"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseManifestLine(line)
		if err != nil {
			return &ParseError{Filename: c.Filename, Err: err}
		}

		switch entry.Kind {
		case KindUnknown:
			cerr := &ClassificationError{Filename: entry.Filename, Priority: entry.Priority}
			if opts.AllowUnknownFiles {
				c.warn("dropping %v", cerr)
				continue
			}
			c.reject(cerr)
			continue

		case KindCustom:
			format := CustomFormat(entry.Section)
			if !customFormats[format] {
				c.reject(&FileError{Filename: entry.Filename, Msg: fmt.Sprintf("unknown custom upload section %q", entry.Section)})
				continue
			}
			c.customs = append(c.customs, CustomFile{ManifestEntry: entry, Format: format})

		case KindDsc, KindSource:
			pkg, ver, _ := splitSourceFilename(entry.Filename)
			f := SourceFile{ManifestEntry: entry, Package: pkg, Version: ver}
			if entry.Kind == KindDsc {
				if c.dsc != nil {
					c.reject(&FileError{Filename: entry.Filename, Msg: fmt.Sprintf("more than one .dsc in upload (already have %s)", c.dsc.Filename)})
					continue
				}
				c.dsc = &f
			}
			c.sources = append(c.sources, f)

		case KindBinary, KindUdebBinary:
			pkg, ver, arch, _ := splitBinaryFilename(entry.Filename)
			c.binaries = append(c.binaries, BinaryFile{ManifestEntry: entry, Package: pkg, Version: ver, Arch: arch})
		}
		c.entries = append(c.entries, entry)
	}

	if len(c.entries) == 0 {
		c.reject(fmt.Errorf("%s: %w", c.Filename, errNoFiles))
	}
	return nil
}

func (c *Changes) verifyDate(opts VerifyOptions) {
	raw, ok := c.Stanza.Get("date")
	if !ok {
		return
	}
	date, err := mail.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		c.reject(fmt.Errorf("%s: invalid Date %q: %w", c.Filename, raw, err))
		return
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if opts.FutureTimeGrace > 0 && date.After(now().Add(opts.FutureTimeGrace)) {
		c.reject(fmt.Errorf("%s: Date %s is too far in the future", c.Filename, date.Format(time.RFC1123Z)))
	}
	if opts.EarliestAcceptableYear > 0 && date.Year() < opts.EarliestAcceptableYear {
		c.reject(fmt.Errorf("%s: Date %s is before %d", c.Filename, date.Format(time.RFC1123Z), opts.EarliestAcceptableYear))
	}
}

func checkSizeAndChecksum(src ContentSource, e ManifestEntry) error {
	rc, err := src.Open(e.Filename)
	if err != nil {
		return &FileError{Filename: e.Filename, Msg: fmt.Sprintf("not found in upload: %v", err)}
	}
	defer rc.Close()

	h := md5.New()
	n, err := io.Copy(h, rc)
	if err != nil {
		return &FileError{Filename: e.Filename, Msg: fmt.Sprintf("reading: %v", err)}
	}
	if n != e.Size {
		return &FileError{Filename: e.Filename, Msg: fmt.Sprintf("size %d does not match manifest size %d", n, e.Size)}
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != e.Checksum {
		return &FileError{Filename: e.Filename, Msg: fmt.Sprintf("md5sum %s does not match manifest %s", sum, e.Checksum)}
	}
	return nil
}

func (c *Changes) verifyDsc(opts VerifyOptions) {
	name := c.dsc.Filename
	rc, err := opts.Content.Open(name)
	if err != nil {
		// Already reported by the checksum pass.
		return
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		c.reject(&FileError{Filename: name, Msg: err.Error()})
		return
	}

	dsc, err := tagfile.Parse(data, name, tagfile.Options{
		DscWhitespaceRules: true,
		AllowUnsigned:      opts.UnsignedDscOK,
	})
	if err != nil {
		c.reject(&FileError{Filename: name, Msg: err.Error()})
		return
	}
	if got := dsc.Value("source"); got != c.Source() {
		c.reject(&FileError{Filename: name, Msg: fmt.Sprintf("Source %q does not match changes Source %q", got, c.Source())})
	}
	if !opts.UnsignedDscOK && opts.Verifier != nil {
		if _, err := opts.Verifier.Verify(data); err != nil {
			c.reject(&FileError{Filename: name, Msg: fmt.Sprintf("signature: %v", err)})
		}
	}
}
