package enums

import "fmt"

type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// DisputeResolution is the admin outcome applied to a disputed order.
type DisputeResolution string

const (
	DisputeResolutionRelease DisputeResolution = "release"
	DisputeResolutionRefund  DisputeResolution = "refund"
)

var validDisputeResolutions = []DisputeResolution{
	DisputeResolutionRelease,
	DisputeResolutionRefund,
}

// String implements fmt.Stringer.
func (r DisputeResolution) String() string {
	return string(r)
}

// IsValid reports whether the value is one of the two allowed resolutions.
func (r DisputeResolution) IsValid() bool {
	for _, candidate := range validDisputeResolutions {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseDisputeResolution converts raw input into a DisputeResolution.
func ParseDisputeResolution(value string) (DisputeResolution, error) {
	for _, candidate := range validDisputeResolutions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute resolution %q", value)
}
