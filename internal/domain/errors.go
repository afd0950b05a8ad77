package domain

import (
	"context"
	"errors"
)

type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrPollNotFound       = errors.New("poll not found")
	ErrNoActionDetermined = errors.New("no action determined")
	ErrMissingRuleNumber  = errors.New("missing rule number")
	ErrInvalidRuleNumber  = errors.New("rule number must be a positive integer")
	ErrEmptyContent       = errors.New("empty rule content")
	ErrTimedOut           = errors.New("timed out")
	ErrTransient          = errors.New("temporary failure")
)

// FailureKind classifies an apply failure for the caller.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureUnauthorized       FailureKind = "unauthorized"
	FailurePollNotFound       FailureKind = "poll_not_found"
	FailureNoActionDetermined FailureKind = "no_action_determined"
	FailureMissingRuleNumber  FailureKind = "missing_rule_number"
	FailureEmptyContent       FailureKind = "empty_content"
	FailureInvalidInput       FailureKind = "invalid_input"
	FailureTimedOut           FailureKind = "timed_out"
	FailureTransient          FailureKind = "transient"
)

// Retryable reports whether re-invoking the same apply may succeed.
func (k FailureKind) Retryable() bool {
	return k == FailureTimedOut || k == FailureTransient
}

// Classify maps err onto the failure taxonomy. Unrecognised errors are transient.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUnauthorized):
		return FailureUnauthorized
	case errors.Is(err, ErrPollNotFound):
		return FailurePollNotFound
	case errors.Is(err, ErrNoActionDetermined):
		return FailureNoActionDetermined
	case errors.Is(err, ErrMissingRuleNumber), errors.Is(err, ErrInvalidRuleNumber):
		return FailureMissingRuleNumber
	case errors.Is(err, ErrEmptyContent):
		return FailureEmptyContent
	case errors.Is(err, ErrInvalidInput):
		return FailureInvalidInput
	case errors.Is(err, ErrTimedOut),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return FailureTimedOut
	default:
		return FailureTransient
	}
}
