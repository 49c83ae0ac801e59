package signal

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a signal that is structurally invalid or out of range.
	ErrMalformed = errors.New("malformed signal")
	// ErrLowConfidence marks a well-formed signal below the confidence
	// threshold. Callers re-elicit and resubmit; it is not a fault.
	ErrLowConfidence = errors.New("signal confidence below threshold")
)

// ValidationError describes why a signal was rejected as malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed signal: %s", e.Reason)
	}
	return fmt.Sprintf("malformed signal: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformed.
func (e *ValidationError) Unwrap() error {
	return ErrMalformed
}

// LowConfidenceError reports a signal rejected for low confidence.
type LowConfidenceError struct {
	Confidence float64
	Threshold  float64
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("signal confidence %.3f below threshold %.2f", e.Confidence, e.Threshold)
}

// Unwrap lets errors.Is match ErrLowConfidence.
func (e *LowConfidenceError) Unwrap() error {
	return ErrLowConfidence
}
