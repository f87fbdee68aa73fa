package upload

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/frederic-klein/soyuz/internal/policy"
)

// memContent serves uploaded files from memory.
type memContent map[string][]byte

func (m memContent) Open(name string) (io.ReadCloser, error) {
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("no such file %q", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func manifestLine(name string, data []byte, section, priority string) string {
	return fmt.Sprintf("%x %d %s %s %s", md5.Sum(data), len(data), section, priority, name)
}

const unsignedDsc = "Format: 3.0 (quilt)\nSource: foo\nBinary: foo\nVersion: 1.0-1\n"

func sourceUpload() (string, memContent) {
	dsc := []byte(unsignedDsc)
	orig := []byte("upstream tarball")
	text := makeChanges("source",
		manifestLine("foo_1.0-1.dsc", dsc, "devel", "optional"),
		manifestLine("foo_1.0.orig.tar.gz", orig, "universe/devel", "optional"),
	)
	return text, memContent{"foo_1.0-1.dsc": dsc, "foo_1.0.orig.tar.gz": orig}
}

func lookup(t *testing.T, name string) *policy.Policy {
	t.Helper()
	p, err := policy.DefaultRegistry().Lookup(name, policy.Options{BuildID: "1"})
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", name, err)
	}
	return p
}

func TestProcess_SourceUpload(t *testing.T) {
	// Arrange
	text, content := sourceUpload()
	proc := NewProcessor(nil, nil)

	// Act
	res, err := proc.Process("foo_1.0-1_source.changes", []byte(text), lookup(t, policy.AbsolutelyAnything), content)

	// Assert
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !res.Accepted() {
		t.Fatalf("upload rejected: %v", res.Rejections)
	}
	c := res.Changes
	if !c.Sourceful() || c.Binaryful() {
		t.Errorf("Sourceful/Binaryful = %v/%v", c.Sourceful(), c.Binaryful())
	}
	if c.Dsc() == nil || c.Dsc().Package != "foo" || c.Dsc().Version != "1.0-1" {
		t.Errorf("Dsc() = %+v", c.Dsc())
	}
	if diff := cmp.Diff([]string{"main", "universe"}, c.FileComponents()); diff != "" {
		t.Errorf("FileComponents() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"source"}, c.Architectures()); diff != "" {
		t.Errorf("Architectures() mismatch (-want +got):\n%s", diff)
	}
	if c.Urgency != UrgencyLow {
		t.Errorf("Urgency = %v", c.Urgency)
	}
}

func TestProcess_InsecureRequiresSignature(t *testing.T) {
	text, content := sourceUpload()

	_, err := NewProcessor(nil, nil).Process("foo_1.0-1_source.changes", []byte(text), lookup(t, policy.Insecure), content)

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Process() error = %v, want *ParseError", err)
	}
}

func TestProcess_ArchitectureCount(t *testing.T) {
	deb := []byte("binary package")
	debLine := manifestLine("foo_1.0-1_i386.deb", deb, "devel", "optional")
	dscLine := manifestLine("foo_1.0-1.dsc", []byte(unsignedDsc), "devel", "optional")

	tests := []struct {
		name     string
		arch     string
		files    []string
		accepted bool
	}{
		{"binary single arch", "i386", []string{debLine}, true},
		{"binary two archs", "amd64 i386", []string{debLine}, false},
		{"mixed source and one arch", "source i386", []string{dscLine, debLine}, true},
		{"mixed source and two archs", "source amd64 i386", []string{dscLine, debLine}, false},
		{"source files without the source architecture", "amd64 i386", []string{dscLine, debLine}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := makeChanges(tt.arch, tt.files...)

			res, err := NewProcessor(nil, nil).Process("foo_1.0-1_i386.changes", []byte(text), lookup(t, policy.AbsolutelyAnything), nil)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Accepted() != tt.accepted {
				t.Errorf("Accepted() = %v, want %v (rejections %v)", res.Accepted(), tt.accepted, res.Rejections)
			}
			for _, r := range res.Rejections {
				var v *policy.Violation
				if !errors.As(r, &v) {
					t.Errorf("rejection %v is not a policy violation", r)
				}
			}
		})
	}
}

func TestProcess_ContentChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(memContent)
		want   string
	}{
		{"checksum mismatch", func(m memContent) { m["foo_1.0.orig.tar.gz"] = []byte("UPSTREAM TARBALL") }, "md5sum"},
		{"size mismatch", func(m memContent) { m["foo_1.0.orig.tar.gz"] = []byte("short") }, "size"},
		{"missing file", func(m memContent) { delete(m, "foo_1.0.orig.tar.gz") }, "not found"},
		{"dsc source mismatch", func(m memContent) {
			m["foo_1.0-1.dsc"] = []byte(strings.Replace(unsignedDsc, "Source: foo", "Source: bar", 1))
		}, "does not match changes Source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, content := sourceUpload()
			tt.mutate(content)

			res, err := NewProcessor(nil, nil).Process("foo_1.0-1_source.changes", []byte(text), lookup(t, policy.AbsolutelyAnything), content)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Accepted() {
				t.Fatal("upload accepted, want rejection")
			}
			found := false
			for _, r := range res.Rejections {
				var ferr *FileError
				if errors.As(r, &ferr) && strings.Contains(r.Error(), tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("no FileError mentioning %q in %v", tt.want, res.Rejections)
			}
		})
	}
}

func TestProcess_UnknownFiles(t *testing.T) {
	deb := manifestLine("foo_1.0-1_i386.deb", []byte("deb"), "devel", "optional")
	unknown := manifestLine("foo_1.0-1_i386.buildinfo", []byte("info"), "devel", "optional")
	text := makeChanges("i386", deb, unknown)

	anything, err := NewProcessor(nil, nil).Process("foo_1.0-1_i386.changes", []byte(text), lookup(t, policy.AbsolutelyAnything), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !anything.Accepted() || len(anything.Warnings) != 1 {
		t.Errorf("absolutely-anything: accepted=%v warnings=%v", anything.Accepted(), anything.Warnings)
	}
	if len(anything.Changes.Entries()) != 1 {
		t.Errorf("unknown file should be dropped, entries = %+v", anything.Changes.Entries())
	}

	buildd, err := NewProcessor(nil, nil).Process("foo_1.0-1_i386.changes", []byte(text), lookup(t, policy.Buildd), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	var cerr *ClassificationError
	if len(buildd.Rejections) != 1 || !errors.As(buildd.Rejections[0], &cerr) {
		t.Errorf("buildd rejections = %v, want one ClassificationError", buildd.Rejections)
	}
}

func TestProcess_FilesManifest(t *testing.T) {
	dsc := manifestLine("foo_1.0-1.dsc", []byte(unsignedDsc), "devel", "optional")
	pol := lookup(t, policy.AbsolutelyAnything)

	t.Run("malformed line is fatal", func(t *testing.T) {
		text := makeChanges("source", "d41d8cd98f00b204e9800998ecf8427e 0 devel foo_1.0-1.dsc")
		_, err := NewProcessor(nil, nil).Process("foo_1.0-1_source.changes", []byte(text), pol, nil)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Process() error = %v, want *ParseError", err)
		}
	})

	t.Run("empty files", func(t *testing.T) {
		res, err := NewProcessor(nil, nil).Process("foo_1.0-1_source.changes", []byte(makeChanges("source")), pol, nil)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if res.Accepted() || !errors.Is(res.Rejections[0], errNoFiles) {
			t.Errorf("Rejections = %v, want no-files rejection", res.Rejections)
		}
	})

	t.Run("two dsc files", func(t *testing.T) {
		second := strings.Replace(dsc, "foo_1.0-1.dsc", "foo_1.0-2.dsc", 1)
		res, err := NewProcessor(nil, nil).Process("foo_1.0-1_source.changes", []byte(makeChanges("source", dsc, second)), pol, nil)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		var ferr *FileError
		if len(res.Rejections) != 1 || !errors.As(res.Rejections[0], &ferr) {
			t.Errorf("Rejections = %v, want one FileError", res.Rejections)
		}
	})

	t.Run("custom uploads", func(t *testing.T) {
		installer := manifestLine("debian-installer-images_20230101_i386.tar.gz", []byte("di"), "raw-installer", "-")
		bogus := manifestLine("foo_1.0_i386.tar.gz", []byte("x"), "raw-bogus", "-")
		res, err := NewProcessor(nil, nil).Process("foo_1.0-1_source.changes", []byte(makeChanges("source", dsc, installer, bogus)), pol, nil)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(res.Changes.Customs()) != 1 || res.Changes.Customs()[0].Format != CustomInstaller {
			t.Errorf("Customs() = %+v", res.Changes.Customs())
		}
		if len(res.Rejections) != 1 || !strings.Contains(res.Rejections[0].Error(), "raw-bogus") {
			t.Errorf("Rejections = %v, want unknown custom section", res.Rejections)
		}
	})
}

func TestProcess_Urgency(t *testing.T) {
	dsc := manifestLine("foo_1.0-1.dsc", []byte(unsignedDsc), "devel", "optional")

	tests := []struct {
		field        string
		want         Urgency
		wantWarnings int
	}{
		{"low", UrgencyLow, 0},
		{"HIGH", UrgencyHigh, 0},
		{"critical", UrgencyEmergency, 0},
		{"bogus", UrgencyLow, 1},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			text := strings.Replace(makeChanges("source", dsc), "Urgency: low", "Urgency: "+tt.field, 1)

			res, err := NewProcessor(nil, nil).Process("foo_1.0-1_source.changes", []byte(text), lookup(t, policy.AbsolutelyAnything), nil)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Changes.Urgency != tt.want {
				t.Errorf("Urgency = %v, want %v", res.Changes.Urgency, tt.want)
			}
			if len(res.Warnings) != tt.wantWarnings {
				t.Errorf("Warnings = %v, want %d", res.Warnings, tt.wantWarnings)
			}
			if !res.Accepted() {
				t.Errorf("urgency should never reject: %v", res.Rejections)
			}
		})
	}
}

func TestProcess_Date(t *testing.T) {
	dsc := manifestLine("foo_1.0-1.dsc", []byte(unsignedDsc), "devel", "optional")
	uploaded := time.Date(2023, 2, 16, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		date     string
		now      time.Time
		accepted bool
	}{
		{"past", "Thu, 16 Feb 2023 10:00:00 +0000", uploaded.Add(24 * time.Hour), true},
		{"within grace", "Thu, 16 Feb 2023 10:00:00 +0000", uploaded.Add(-7 * time.Hour), true},
		{"too far in the future", "Thu, 16 Feb 2023 10:00:00 +0000", uploaded.Add(-9 * time.Hour), false},
		{"too early", "Sun, 02 Jan 1983 10:00:00 +0000", uploaded, false},
		{"unparseable", "yesterday", uploaded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Replace(makeChanges("source", dsc), "Thu, 16 Feb 2023 10:00:00 +0000", tt.date, 1)
			proc := NewProcessor(nil, nil)
			proc.Now = func() time.Time { return tt.now }

			res, err := proc.Process("foo_1.0-1_source.changes", []byte(text), lookup(t, policy.AbsolutelyAnything), nil)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Accepted() != tt.accepted {
				t.Errorf("Accepted() = %v, want %v (rejections %v)", res.Accepted(), tt.accepted, res.Rejections)
			}
		})
	}
}
