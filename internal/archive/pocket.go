package archive

import (
	"fmt"
	"strings"
)

// Pocket is a publication channel layered on top of a series release.
type Pocket string

const (
	PocketRelease   Pocket = "release"
	PocketSecurity  Pocket = "security"
	PocketUpdates   Pocket = "updates"
	PocketProposed  Pocket = "proposed"
	PocketBackports Pocket = "backports"
)

// DefaultPocket is the pocket used for synthesized primary dependencies.
const DefaultPocket = PocketUpdates

// pocketDependencies is ordered: release first, the pocket itself last.
var pocketDependencies = map[Pocket][]Pocket{
	PocketRelease:   {PocketRelease},
	PocketSecurity:  {PocketRelease, PocketSecurity},
	PocketUpdates:   {PocketRelease, PocketSecurity, PocketUpdates},
	PocketBackports: {PocketRelease, PocketSecurity, PocketUpdates, PocketBackports},
	PocketProposed:  {PocketRelease, PocketSecurity, PocketUpdates, PocketProposed},
}

// ParsePocket validates a pocket name. Matching is case-insensitive.
func ParsePocket(s string) (Pocket, error) {
	p := Pocket(strings.ToLower(s))
	if _, ok := pocketDependencies[p]; !ok {
		return "", fmt.Errorf("unknown pocket %q", s)
	}
	return p, nil
}

// PocketDependencies expands p into the ordered list of concrete pockets a
// build targeting it reads from. Unknown pockets expand to nil.
func PocketDependencies(p Pocket) []Pocket {
	deps, ok := pocketDependencies[p]
	if !ok {
		return nil
	}
	out := make([]Pocket, len(deps))
	copy(out, deps)
	return out
}

// Suffix returns the suite suffix for the pocket: empty for release,
// "-<pocket>" otherwise.
func (p Pocket) Suffix() string {
	if p == PocketRelease || p == "" {
		return ""
	}
	return "-" + string(p)
}

// Suite joins a series name and a pocket into a suite name, e.g.
// "jammy-updates".
func Suite(series string, p Pocket) string {
	return series + p.Suffix()
}

// ParseSuite splits a suite name such as "jammy-security" into its series
// and pocket. A suite without a known pocket suffix is the release pocket.
func ParseSuite(suite string) (string, Pocket) {
	if i := strings.LastIndex(suite, "-"); i > 0 {
		if p, err := ParsePocket(suite[i+1:]); err == nil && p != PocketRelease {
			return suite[:i], p
		}
	}
	return suite, PocketRelease
}
