package upload

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the classification of one file named in a changes manifest.
type Kind int

const (
	KindUnknown Kind = iota
	KindDsc
	KindSource
	KindBinary
	KindUdebBinary
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindDsc:
		return "dsc"
	case KindSource:
		return "source"
	case KindBinary:
		return "binary"
	case KindUdebBinary:
		return "udeb"
	case KindCustom:
		return "custom"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CustomPriority is the manifest priority marking a custom upload.
const CustomPriority = "-"

var (
	sourceFileRe = regexp.MustCompile(`^([^_/]+)_([^_/]+?)\.(dsc|diff\.gz|orig\.tar\.(?:gz|bz2|xz)|orig-[^._/]+\.tar\.(?:gz|bz2|xz)|debian\.tar\.(?:gz|bz2|xz)|tar\.(?:gz|bz2|xz))$`)
	binaryFileRe = regexp.MustCompile(`^([^_/]+)_([^_/]+)_([^_/]+)\.(u?deb)$`)
)

// Classify decides what kind of artifact a manifest line names. The
// priority sentinel wins over the filename shape, then source patterns are
// tried before binary ones.
func Classify(filename, priority string) Kind {
	if priority == CustomPriority {
		return KindCustom
	}
	if sourceFileRe.MatchString(filename) {
		if strings.HasSuffix(filename, ".dsc") {
			return KindDsc
		}
		return KindSource
	}
	if m := binaryFileRe.FindStringSubmatch(filename); m != nil {
		if m[4] == "udeb" {
			return KindUdebBinary
		}
		return KindBinary
	}
	return KindUnknown
}

// splitSourceFilename returns the package and version encoded in a source
// artifact filename.
func splitSourceFilename(filename string) (pkg, version string, ok bool) {
	m := sourceFileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// splitBinaryFilename returns the package, version and architecture encoded
// in a binary artifact filename.
func splitBinaryFilename(filename string) (pkg, version, arch string, ok bool) {
	m := binaryFileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}
