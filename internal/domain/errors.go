package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrFeedInterrupted  = errors.New("feed interrupted")
	ErrWaitTimeout      = errors.New("wait timed out")
	ErrStreamClosed     = errors.New("stream closed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
)

// ValidationError is a malformed or out-of-range input, rejected before any
// network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// SubmissionError means the request reached the venue and was rejected
// there. Reason carries the venue's reason string when available.
type SubmissionError struct {
	Op     string // "submit", "cancel", "modify"
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("submission: %s rejected: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("submission: %s failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
