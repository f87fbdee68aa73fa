package archive

import (
	"fmt"
	"strings"
)

// Purpose classifies what an archive is used for.
type Purpose string

const (
	PurposePrimary Purpose = "primary"
	PurposePartner Purpose = "partner"
	PurposePPA     Purpose = "ppa"
	PurposeCopy    Purpose = "copy"
)

// ParsePurpose validates an archive purpose.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(strings.ToLower(s)); p {
	case PurposePrimary, PurposePartner, PurposePPA, PurposeCopy:
		return p, nil
	}
	return "", fmt.Errorf("unknown archive purpose %q", s)
}

// AllowsReleaseBuilds reports whether builds in archives of this purpose
// build from the archive's own release pocket.
func (p Purpose) AllowsReleaseBuilds() bool {
	return p == PurposePPA || p == PurposeCopy
}

// Archive is a package archive belonging to a distribution.
type Archive struct {
	ID           int64
	Name         string
	Owner        string
	Distribution string
	Purpose      Purpose
	Private      bool
	// Components restricts the components published in the archive.
	// Empty means every component.
	Components []Component
}

// IsPrimary reports whether a is its distribution's primary archive.
func (a Archive) IsPrimary() bool {
	return a.Purpose == PurposePrimary
}

// HasComponent reports whether the archive publishes component c.
func (a Archive) HasComponent(c Component) bool {
	if len(a.Components) == 0 {
		return true
	}
	for _, have := range a.Components {
		if have == c {
			return true
		}
	}
	return false
}

func (a Archive) String() string {
	if a.Purpose == PurposePPA {
		return fmt.Sprintf("ppa:%s/%s", a.Owner, a.Name)
	}
	return fmt.Sprintf("%s/%s", a.Distribution, a.Name)
}

// Build is one source package build waiting for dispatch.
type Build struct {
	ID         string
	Archive    Archive
	Series     string
	Arch       string
	Pocket     Pocket
	SourceName string
	// Component is the component the source is currently published in,
	// in the build's own archive.
	Component Component
}

// Dependency is an operator-configured archive dependency. An empty
// Component means "follow the primary archive ancestry".
type Dependency struct {
	Archive   Archive
	Pocket    Pocket
	Component Component
}

// DependencyTuple is one layer a build may read from.
type DependencyTuple struct {
	Archive    Archive
	Pocket     Pocket
	Components []Component
}

// Layout maps archives to their public base URLs.
type Layout struct {
	RootURL           string
	PPARootURL        string
	PrivatePPARootURL string
}

// URL returns the base URL of archive a.
func (l Layout) URL(a Archive) string {
	switch a.Purpose {
	case PurposePPA:
		root := l.PPARootURL
		if a.Private {
			root = l.PrivatePPARootURL
		}
		return fmt.Sprintf("%s/%s/%s/%s", strings.TrimSuffix(root, "/"), a.Owner, a.Name, a.Distribution)
	case PurposePartner:
		return fmt.Sprintf("%s/%s-partner", strings.TrimSuffix(l.RootURL, "/"), a.Distribution)
	case PurposeCopy:
		return fmt.Sprintf("%s/%s-%s", strings.TrimSuffix(l.RootURL, "/"), a.Distribution, a.Name)
	default:
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(l.RootURL, "/"), a.Distribution)
	}
}
