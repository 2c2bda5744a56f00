package estimate

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("estimation run already in progress")
	// ErrNoClient is returned when the scheduler has no provider client.
	ErrNoClient = errors.New("no production estimation client configured")
)

// RequestError is a failure of a single provider request.
type RequestError struct {
	Token       int
	Fingerprint Fingerprint
	Err         error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d (%s): %v", e.Token, e.Fingerprint, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// BatchError aborts a run under the abort failure policy.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// FailurePolicy decides what a failed request does to the rest of the run.
type FailurePolicy string

const (
	// PolicyPartial keeps the succeeded results of a batch and nulls the
	// roofs of failed fingerprints.
	PolicyPartial FailurePolicy = "partial"
	// PolicyAbort cancels the failing batch and ends the run without output.
	PolicyAbort FailurePolicy = "abort"
)

// ParseFailurePolicy validates a policy name.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case PolicyPartial, PolicyAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}
