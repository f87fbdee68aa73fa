package upload

import "strings"

// Urgency is the upload urgency, as used by migration tooling.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyEmergency
)

func (u Urgency) String() string {
	switch u {
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyEmergency:
		return "EMERGENCY"
	default:
		return "LOW"
	}
}

var urgencies = map[string]Urgency{
	"low":       UrgencyLow,
	"medium":    UrgencyMedium,
	"high":      UrgencyHigh,
	"critical":  UrgencyEmergency,
	"emergency": UrgencyEmergency,
}

// ParseUrgency maps an Urgency field value. ok is false for unrecognized
// values, in which case UrgencyLow is returned.
func ParseUrgency(s string) (u Urgency, ok bool) {
	u, ok = urgencies[strings.ToLower(strings.TrimSpace(s))]
	return u, ok
}
