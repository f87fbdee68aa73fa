// Package policy holds the named rule sets applied to uploads before they
// are accepted into an archive.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/frederic-klein/soyuz/internal/archive"
)

const (
	DefaultFutureTimeGrace        = 8 * time.Hour
	DefaultEarliestAcceptableYear = 1984
)

var (
	ErrUnknownPolicy  = errors.New("unknown upload policy")
	ErrMissingBuildID = errors.New("policy requires a build id")
)

// Options binds a policy to one upload.
type Options struct {
	// Context names the policy to use when looking up by options.
	Context string
	// Distribution names the target distribution. With KnownSeries set,
	// uploads must target one of its series.
	Distribution string
	KnownSeries  []string
	// Series and Pocket, when set, must match the upload's target suite.
	Series  string
	Pocket  archive.Pocket
	BuildID string
	// PermittedComponents, when set, replaces the policy's default
	// permitted components.
	PermittedComponents []archive.Component
}

// Policy is an immutable set of validation switches. Create policies
// through a Registry.
type Policy struct {
	Name        string
	Description string
	Options     Options

	CreatePeople      bool
	UnsignedChangesOK bool
	UnsignedDscOK     bool
	CanUploadSource   bool
	CanUploadBinaries bool
	CanUploadMixed    bool
	AllowUnknownFiles bool

	FutureTimeGrace        time.Duration
	EarliestAcceptableYear int

	DefaultPermittedComponents []archive.Component
}

// newPolicy returns a policy with the safe defaults every named policy
// starts from.
func newPolicy(name, description string, opts Options) *Policy {
	permitted := archive.Components()
	if len(opts.PermittedComponents) > 0 {
		permitted = append([]archive.Component(nil), opts.PermittedComponents...)
	}
	return &Policy{
		Name:                       name,
		Description:                description,
		Options:                    opts,
		CreatePeople:               true,
		CanUploadSource:            true,
		CanUploadBinaries:          true,
		CanUploadMixed:             true,
		FutureTimeGrace:            DefaultFutureTimeGrace,
		EarliestAcceptableYear:     DefaultEarliestAcceptableYear,
		DefaultPermittedComponents: permitted,
	}
}

// Permits reports whether files in component c may be uploaded.
func (p *Policy) Permits(c string) bool {
	for _, allowed := range p.DefaultPermittedComponents {
		if string(allowed) == c {
			return true
		}
	}
	return false
}

// Violation is a business-rule rejection.
type Violation struct {
	Policy string
	Msg    string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s policy: %s", v.Policy, v.Msg)
}

func (p *Policy) violation(format string, args ...interface{}) *Violation {
	return &Violation{Policy: p.Name, Msg: fmt.Sprintf(format, args...)}
}
