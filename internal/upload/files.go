package upload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frederic-klein/soyuz/internal/archive"
)

// ManifestEntry is one line of a changes file's Files field.
type ManifestEntry struct {
	Checksum  string
	Size      int64
	Component string
	Section   string
	Priority  string
	Filename  string
	Kind      Kind
}

// parseManifestLine splits "md5 size [component/]section priority filename".
// A line with the wrong shape is fatal.
func parseManifestLine(line string) (ManifestEntry, error) {
	parts := strings.Fields(line)
	if len(parts) != 5 {
		return ManifestEntry{}, fmt.Errorf("wrong number of fields in Files line %q", line)
	}

	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return ManifestEntry{}, fmt.Errorf("invalid size %q in Files line %q", parts[1], line)
	}

	component, section := string(archive.ComponentMain), parts[2]
	if i := strings.Index(parts[2], "/"); i >= 0 {
		component, section = parts[2][:i], parts[2][i+1:]
	}

	entry := ManifestEntry{
		Checksum:  strings.ToLower(parts[0]),
		Size:      size,
		Component: component,
		Section:   section,
		Priority:  parts[3],
		Filename:  parts[4],
	}
	entry.Kind = Classify(entry.Filename, entry.Priority)
	return entry, nil
}

// SourceFile is a source artifact (.dsc, tarballs, diffs).
type SourceFile struct {
	ManifestEntry
	Package string
	Version string
}

// BinaryFile is a .deb or .udeb.
type BinaryFile struct {
	ManifestEntry
	Package string
	Version string
	Arch    string
}

// CustomFormat names a custom upload type, carried in the section field.
type CustomFormat string

const (
	CustomInstaller          CustomFormat = "raw-installer"
	CustomTranslations       CustomFormat = "raw-translations"
	CustomDistUpgrader       CustomFormat = "raw-dist-upgrader"
	CustomDDTPTarball        CustomFormat = "raw-ddtp-tarball"
	CustomStaticTranslations CustomFormat = "raw-translations-static"
	CustomMetaData           CustomFormat = "raw-meta-data"
	CustomUEFI               CustomFormat = "raw-uefi"
	CustomSigning            CustomFormat = "raw-signing"
)

var customFormats = map[CustomFormat]bool{
	CustomInstaller:          true,
	CustomTranslations:       true,
	CustomDistUpgrader:       true,
	CustomDDTPTarball:        true,
	CustomStaticTranslations: true,
	CustomMetaData:           true,
	CustomUEFI:               true,
	CustomSigning:            true,
}

// CustomFile is a custom-format upload, e.g. installer images.
type CustomFile struct {
	ManifestEntry
	Format CustomFormat
}
