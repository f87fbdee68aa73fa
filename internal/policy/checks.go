package policy

import (
	"strings"

	"github.com/frederic-klein/soyuz/internal/archive"
)

// Upload is the view of a verified upload that policy checks need.
type Upload interface {
	Sourceful() bool
	Binaryful() bool
	// Architectures includes "source" for sourceful uploads.
	Architectures() []string
	FileComponents() []string
	Suite() string
}

// Check applies the policy-specific rules. Every returned error is a
// *Violation.
func (p *Policy) Check(u Upload) []error {
	var errs []error
	add := func(v *Violation) { errs = append(errs, v) }

	sourceful, binaryful := u.Sourceful(), u.Binaryful()
	switch {
	case sourceful && binaryful:
		if !p.CanUploadMixed {
			add(p.violation("mixed source and binary uploads are not allowed"))
		}
	case sourceful:
		if !p.CanUploadSource {
			add(p.violation("source uploads are not allowed"))
		}
	case binaryful:
		if !p.CanUploadBinaries {
			add(p.violation("binary uploads are not allowed"))
		}
	}

	if binaryful {
		// The source pseudo-architecture is the only second slot.
		archs := u.Architectures()
		limit := 1
		if containsString(archs, "source") {
			limit = 2
		}
		if len(archs) > limit {
			add(p.violation("only one build per upload is permitted, got architectures %s", strings.Join(archs, " ")))
		}
	}

	series, pocket := archive.ParseSuite(u.Suite())
	if p.Options.Distribution != "" && len(p.Options.KnownSeries) > 0 && !containsString(p.Options.KnownSeries, series) {
		add(p.violation("series %q is not part of %s", series, p.Options.Distribution))
	}
	if p.Options.Series != "" && series != p.Options.Series {
		add(p.violation("upload targets series %q, expected %q", series, p.Options.Series))
	}
	if p.Options.Pocket != "" && pocket != p.Options.Pocket {
		add(p.violation("upload targets pocket %q, expected %q", pocket, p.Options.Pocket))
	}

	for _, c := range u.FileComponents() {
		if !p.Permits(c) {
			add(p.violation("component %q is not permitted", c))
		}
	}
	return errs
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
