package upload

import (
	"io"
	"log/slog"
	"time"

	"github.com/frederic-klein/soyuz/internal/policy"
)

// Result is the outcome of processing one changes file.
type Result struct {
	Changes    *Changes
	Warnings   []Warning
	Rejections []error
}

// Accepted reports whether nothing blocked the upload.
func (r *Result) Accepted() bool { return len(r.Rejections) == 0 }

// Processor runs the parse, verify and policy phases for uploads.
type Processor struct {
	Verifier SignatureVerifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewProcessor creates a processor. A nil logger discards output.
func NewProcessor(verifier SignatureVerifier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{Verifier: verifier, Logger: logger, Now: time.Now}
}

// Process parses filename, verifies it against pol and applies the policy
// checks. The returned error is a *ParseError when the upload is
// structurally unusable; every other problem is a rejection on the Result.
func (p *Processor) Process(filename string, data []byte, pol *policy.Policy, content ContentSource) (*Result, error) {
	log := p.Logger.With("changes", filename, "policy", pol.Name)

	c, err := ParseChanges(filename, data, ParseOptions{
		AllowUnsigned: pol.UnsignedChangesOK,
		Verifier:      p.Verifier,
	})
	if err != nil {
		log.Warn("parse failed", "error", err)
		return nil, err
	}
	log.Debug("parsed changes", "source", c.Source(), "version", c.Version.String(), "suite", c.Suite())

	err = c.Verify(VerifyOptions{
		RequireSignature:       !pol.UnsignedChangesOK,
		UnsignedDscOK:          pol.UnsignedDscOK,
		AllowUnknownFiles:      pol.AllowUnknownFiles,
		FutureTimeGrace:        pol.FutureTimeGrace,
		EarliestAcceptableYear: pol.EarliestAcceptableYear,
		Content:                content,
		Verifier:               p.Verifier,
		Now:                    p.Now,
	})
	if err != nil {
		log.Warn("files manifest is malformed", "error", err)
		return nil, err
	}

	for _, v := range pol.Check(c) {
		c.Reject(v)
	}

	for _, w := range c.Warnings() {
		log.Info("upload warning", "warning", w.Msg)
	}
	for _, r := range c.Rejections() {
		log.Info("upload rejection", "reason", r.Error())
	}

	res := &Result{Changes: c, Warnings: c.Warnings(), Rejections: c.Rejections()}
	log.Debug("processed upload", "accepted", res.Accepted(), "files", len(c.Entries()))
	return res, nil
}

// Report is the serializable summary of a Result.
type Report struct {
	Changes    string       `json:"changes"`
	Source     string       `json:"source"`
	Version    string       `json:"version"`
	Suite      string       `json:"suite"`
	Signer     string       `json:"signer,omitempty"`
	Accepted   bool         `json:"accepted"`
	Warnings   []string     `json:"warnings"`
	Rejections []string     `json:"rejections"`
	Files      []FileReport `json:"files"`
}

// FileReport describes one manifest entry.
type FileReport struct {
	Filename  string `json:"filename"`
	Kind      string `json:"kind"`
	Component string `json:"component"`
	Section   string `json:"section"`
	Priority  string `json:"priority"`
	Size      int64  `json:"size"`
	MD5       string `json:"md5"`
}

// Report summarizes r.
func (r *Result) Report() Report {
	c := r.Changes
	rep := Report{
		Changes:    c.Filename,
		Source:     c.Source(),
		Version:    c.Version.String(),
		Suite:      c.Suite(),
		Accepted:   r.Accepted(),
		Warnings:   make([]string, 0, len(r.Warnings)),
		Rejections: make([]string, 0, len(r.Rejections)),
		Files:      make([]FileReport, 0, len(c.Entries())),
	}
	if c.Signed() {
		rep.Signer = c.Signer.Fingerprint
	}
	for _, w := range r.Warnings {
		rep.Warnings = append(rep.Warnings, w.Msg)
	}
	for _, err := range r.Rejections {
		rep.Rejections = append(rep.Rejections, err.Error())
	}
	for _, e := range c.Entries() {
		rep.Files = append(rep.Files, FileReport{
			Filename:  e.Filename,
			Kind:      e.Kind.String(),
			Component: e.Component,
			Section:   e.Section,
			Priority:  e.Priority,
			Size:      e.Size,
			MD5:       e.Checksum,
		})
	}
	return rep
}
