// Package resolver computes the APT sources a build may install its
// build-dependencies from.
package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/frederic-klein/soyuz/internal/archive"
	"github.com/frederic-klein/soyuz/internal/sourceslist"
)

// CredentialUser is the user name embedded in private archive URLs.
const CredentialUser = "buildd"

// Store is the archive and publication state the resolver reads.
type Store interface {
	PrimaryArchive(ctx context.Context, distribution string) (archive.Archive, error)
	// LatestAncestry returns the component of the most recent publication
	// of sourceName in a for series. ok is false when there is none.
	LatestAncestry(ctx context.Context, sourceName string, a archive.Archive, series string) (c archive.Component, ok bool, err error)
	HasPublishedBinaries(ctx context.Context, a archive.Archive, arch, series string, pocket archive.Pocket) (bool, error)
	ConfiguredDependencies(ctx context.Context, a archive.Archive) ([]archive.Dependency, error)
}

// CredentialProvider yields the build-scoped secret for a private archive.
type CredentialProvider interface {
	Secret(ctx context.Context, build archive.Build, a archive.Archive) (string, error)
}

// Resolver resolves the dependency layers of builds.
type Resolver struct {
	store  Store
	layout archive.Layout
	creds  CredentialProvider
	logger *slog.Logger
}

// NewResolver creates a new dependency resolver. creds may be nil when no
// archive is private; logger may be nil.
func NewResolver(store Store, layout archive.Layout, creds CredentialProvider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{store: store, layout: layout, creds: creds, logger: logger}
}

// Tuples returns every dependency layer of build, before publication
// filtering. The build's own archive comes first, then the configured
// dependencies in order, then the synthesized primary dependencies.
func (r *Resolver) Tuples(ctx context.Context, build archive.Build) ([]archive.DependencyTuple, error) {
	log := r.logger.With("build", build.ID, "archive", build.Archive.String())

	primary, err := r.store.PrimaryArchive(ctx, build.Archive.Distribution)
	if err != nil {
		return nil, fmt.Errorf("finding primary archive of %s: %w", build.Archive.Distribution, err)
	}

	configured, err := r.store.ConfiguredDependencies(ctx, build.Archive)
	if err != nil {
		return nil, fmt.Errorf("listing dependencies of %s: %w", build.Archive, err)
	}

	var tuples []archive.DependencyTuple

	if build.Archive.Purpose.AllowsReleaseBuilds() {
		tuples = append(tuples, archive.DependencyTuple{
			Archive:    build.Archive,
			Pocket:     archive.PocketRelease,
			Components: archive.ComponentsForContext(build.Component, build.Pocket),
		})
	}

	var (
		hasPrimary bool
		ancestry   archive.Component
	)
	for _, dep := range configured {
		if dep.Archive.ID == primary.ID {
			hasPrimary = true
		}

		component := dep.Component
		if component == "" {
			if ancestry == "" {
				if ancestry, err = r.ancestry(ctx, build, primary); err != nil {
					return nil, err
				}
			}
			component = ancestry
		}
		components := archive.ComponentDependencies(component)
		if components == nil {
			log.Warn("skipping dependency with unknown component", "dependency", dep.Archive.String(), "component", component)
			continue
		}

		for _, pocket := range archive.PocketDependencies(dep.Pocket) {
			tuples = append(tuples, archive.DependencyTuple{Archive: dep.Archive, Pocket: pocket, Components: components})
		}
	}

	if !hasPrimary {
		pocket, components := archive.DefaultPocket, archive.ComponentDependencies(archive.ComponentMultiverse)
		if !build.Archive.Purpose.AllowsReleaseBuilds() {
			pocket, components = build.Pocket, archive.ComponentsForContext(build.Component, build.Pocket)
		}
		log.Debug("synthesizing primary dependency", "pocket", pocket, "components", components)
		for _, p := range archive.PocketDependencies(pocket) {
			tuples = append(tuples, archive.DependencyTuple{Archive: primary, Pocket: p, Components: components})
		}
	}

	return tuples, nil
}

// ancestry returns the component build's source was last published in,
// in the primary archive, or the default component if there is none.
func (r *Resolver) ancestry(ctx context.Context, build archive.Build, primary archive.Archive) (archive.Component, error) {
	c, ok, err := r.store.LatestAncestry(ctx, build.SourceName, primary, build.Series)
	if err != nil {
		return "", fmt.Errorf("looking up ancestry of %s: %w", build.SourceName, err)
	}
	if !ok {
		r.logger.Debug("no primary ancestry, using default component", "source", build.SourceName, "component", archive.DefaultComponent)
		return archive.DefaultComponent, nil
	}
	return c, nil
}

// Resolve returns the sources.list lines for build, in dependency order.
// Layers of non-primary archives with nothing published for the build's
// architecture are left out.
func (r *Resolver) Resolve(ctx context.Context, build archive.Build) ([]sourceslist.Line, error) {
	tuples, err := r.Tuples(ctx, build)
	if err != nil {
		return nil, err
	}

	var lines []sourceslist.Line
	for _, t := range tuples {
		if !t.Archive.IsPrimary() {
			published, err := r.store.HasPublishedBinaries(ctx, t.Archive, build.Arch, build.Series, t.Pocket)
			if err != nil {
				return nil, fmt.Errorf("checking publications in %s: %w", t.Archive, err)
			}
			if !published {
				r.logger.Debug("skipping unpublished dependency", "archive", t.Archive.String(), "pocket", t.Pocket)
				continue
			}
		}

		// The primary archive is always emitted with the full layer.
		var components []string
		for _, c := range t.Components {
			if t.Archive.IsPrimary() || t.Archive.HasComponent(c) {
				components = append(components, string(c))
			}
		}
		if len(components) == 0 {
			r.logger.Debug("skipping dependency without usable components", "archive", t.Archive.String())
			continue
		}

		base, err := r.archiveURL(ctx, build, t.Archive)
		if err != nil {
			return nil, err
		}
		line := sourceslist.NewLine(base, archive.Suite(build.Series, t.Pocket), components...)
		r.logger.Debug("resolved dependency", "line", line.Redacted())
		lines = append(lines, line)
	}
	return lines, nil
}

func (r *Resolver) archiveURL(ctx context.Context, build archive.Build, a archive.Archive) (string, error) {
	base := r.layout.URL(a)
	if !a.Private {
		return base, nil
	}
	if r.creds == nil {
		return "", fmt.Errorf("archive %s is private but no credential provider is configured", a)
	}
	secret, err := r.creds.Secret(ctx, build, a)
	if err != nil {
		return "", fmt.Errorf("issuing credentials for %s: %w", a, err)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing archive url %q: %w", base, err)
	}
	u.User = url.UserPassword(CredentialUser, secret)
	return u.String(), nil
}
