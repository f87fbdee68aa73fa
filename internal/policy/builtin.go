package policy

const (
	Insecure           = "insecure"
	Buildd             = "buildd"
	Autosync           = "autosync"
	AbsolutelyAnything = "absolutely-anything"
)

var builtins = []struct {
	name    string
	factory Factory
}{
	{Insecure, newInsecure},
	{Buildd, newBuildd},
	{Autosync, newAutosync},
	{AbsolutelyAnything, newAbsolutelyAnything},
}

// newInsecure is the policy for uploads signed by people: sources only.
func newInsecure(opts Options) (*Policy, error) {
	p := newPolicy(Insecure, "Signed source uploads from developers.", opts)
	p.CanUploadBinaries = false
	p.CanUploadMixed = false
	return p, nil
}

// newBuildd trusts build agents, so signatures are not required, but only
// binaries for a known build are accepted.
func newBuildd(opts Options) (*Policy, error) {
	if opts.BuildID == "" {
		return nil, ErrMissingBuildID
	}
	p := newPolicy(Buildd, "Binary uploads from build agents.", opts)
	p.UnsignedChangesOK = true
	p.UnsignedDscOK = true
	p.CanUploadSource = false
	p.CanUploadMixed = false
	return p, nil
}

func newAutosync(opts Options) (*Policy, error) {
	p := newPolicy(Autosync, "Source syncs from an upstream distribution.", opts)
	p.UnsignedDscOK = true
	p.CanUploadBinaries = false
	p.CanUploadMixed = false
	return p, nil
}

func newAbsolutelyAnything(opts Options) (*Policy, error) {
	p := newPolicy(AbsolutelyAnything, "Accepts any upload shape, signed or not.", opts)
	p.UnsignedChangesOK = true
	p.UnsignedDscOK = true
	p.AllowUnknownFiles = true
	return p, nil
}
