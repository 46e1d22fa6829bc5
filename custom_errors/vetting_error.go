package custom_errors

import "fmt"

// VettingError is returned when an action is rejected before execution because it falls
// outside the configured allowlist or capability set.
type VettingError struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
}

func NewVettingError(subject, reason string) *VettingError {
	return &VettingError{Subject: subject, Reason: reason}
}

func (v *VettingError) Error() string {
	return fmt.Sprintf("vetting rejected %q: %s", v.Subject, v.Reason)
}
