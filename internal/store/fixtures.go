package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/soyuz/internal/archive"
)

// Fixture describes archive state to load into a store, typically from a
// YAML file.
type Fixture struct {
	Archives []ArchiveFixture     `yaml:"archives"`
	Sources  []PublicationFixture `yaml:"sources"`
	Binaries []PublicationFixture `yaml:"binaries"`
	Builds   []BuildFixture       `yaml:"builds"`
}

type ArchiveFixture struct {
	Name         string              `yaml:"name"`
	Owner        string              `yaml:"owner"`
	Distribution string              `yaml:"distribution"`
	Purpose      string              `yaml:"purpose"`
	Private      bool                `yaml:"private"`
	Components   []string            `yaml:"components"`
	Dependencies []DependencyFixture `yaml:"dependencies"`
}

// DependencyFixture refers to its archive by reference, e.g.
// "ubuntu/primary" or "ppa:alice/tools".
type DependencyFixture struct {
	Archive   string `yaml:"archive"`
	Pocket    string `yaml:"pocket"`
	Component string `yaml:"component"`
}

type PublicationFixture struct {
	Archive   string    `yaml:"archive"`
	Name      string    `yaml:"name"`
	Version   string    `yaml:"version"`
	Arch      string    `yaml:"arch"`
	Component string    `yaml:"component"`
	Series    string    `yaml:"series"`
	Pocket    string    `yaml:"pocket"`
	Published time.Time `yaml:"published"`
}

type BuildFixture struct {
	ID        string `yaml:"id"`
	Archive   string `yaml:"archive"`
	Source    string `yaml:"source"`
	Series    string `yaml:"series"`
	Arch      string `yaml:"arch"`
	Pocket    string `yaml:"pocket"`
	Component string `yaml:"component"`
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &f, nil
}

// Import loads f in a single transaction and returns the stored builds.
func (s *Store) Import(ctx context.Context, f *Fixture) ([]archive.Build, error) {
	var builds []archive.Build
	err := s.WithTx(ctx, func(tx *Store) error {
		var err error
		builds, err = tx.importFixture(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return builds, nil
}

func (s *Store) importFixture(ctx context.Context, f *Fixture) ([]archive.Build, error) {
	stored := make([]archive.Archive, len(f.Archives))
	for i, af := range f.Archives {
		a, err := af.archive()
		if err != nil {
			return nil, err
		}
		if stored[i], err = s.InsertArchive(ctx, a); err != nil {
			return nil, err
		}
	}

	// Dependencies may point at archives defined later in the file.
	for i, af := range f.Archives {
		for _, df := range af.Dependencies {
			dep, err := s.ArchiveByRef(ctx, df.Archive)
			if err != nil {
				return nil, fmt.Errorf("dependency %q of %s: %w", df.Archive, stored[i], err)
			}
			pocket := archive.Pocket(df.Pocket)
			if pocket == "" {
				pocket = archive.PocketRelease
			}
			if err := s.AddDependency(ctx, stored[i], archive.Dependency{Archive: dep, Pocket: pocket, Component: archive.Component(df.Component)}); err != nil {
				return nil, err
			}
		}
	}

	for _, pf := range f.Sources {
		a, err := s.ArchiveByRef(ctx, pf.Archive)
		if err != nil {
			return nil, fmt.Errorf("source %s: archive %q: %w", pf.Name, pf.Archive, err)
		}
		err = s.PublishSource(ctx, SourcePublication{
			Archive: a, Name: pf.Name, Version: pf.Version,
			Component: archive.Component(pf.Component), Series: pf.Series,
			Pocket: pocketOrRelease(pf.Pocket), PublishedAt: pf.Published,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, pf := range f.Binaries {
		a, err := s.ArchiveByRef(ctx, pf.Archive)
		if err != nil {
			return nil, fmt.Errorf("binary %s: archive %q: %w", pf.Name, pf.Archive, err)
		}
		err = s.PublishBinary(ctx, BinaryPublication{
			Archive: a, Name: pf.Name, Version: pf.Version, Arch: pf.Arch,
			Component: archive.Component(pf.Component), Series: pf.Series,
			Pocket: pocketOrRelease(pf.Pocket), PublishedAt: pf.Published,
		})
		if err != nil {
			return nil, err
		}
	}

	builds := make([]archive.Build, 0, len(f.Builds))
	for _, bf := range f.Builds {
		a, err := s.ArchiveByRef(ctx, bf.Archive)
		if err != nil {
			return nil, fmt.Errorf("build of %s: archive %q: %w", bf.Source, bf.Archive, err)
		}
		b, err := s.CreateBuild(ctx, archive.Build{
			ID: bf.ID, Archive: a, SourceName: bf.Source, Series: bf.Series, Arch: bf.Arch,
			Pocket: archive.Pocket(bf.Pocket), Component: archive.Component(bf.Component),
		})
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, nil
}

func (af ArchiveFixture) archive() (archive.Archive, error) {
	purpose, err := archive.ParsePurpose(af.Purpose)
	if err != nil {
		return archive.Archive{}, fmt.Errorf("archive %s: %w", af.Name, err)
	}
	a := archive.Archive{
		Name: af.Name, Owner: af.Owner, Distribution: af.Distribution,
		Purpose: purpose, Private: af.Private,
	}
	for _, c := range af.Components {
		comp, err := archive.ParseComponent(c)
		if err != nil {
			return archive.Archive{}, fmt.Errorf("archive %s: %w", af.Name, err)
		}
		a.Components = append(a.Components, comp)
	}
	return a, nil
}

func pocketOrRelease(s string) archive.Pocket {
	if s == "" {
		return archive.PocketRelease
	}
	return archive.Pocket(s)
}
