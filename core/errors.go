package core

import (
	"context"
	"errors"
	"fmt"
)

// LaunchErrorKind classifies kernel launch failures.
type LaunchErrorKind string

const (
	// LaunchErrorUnknown is an uncategorized launch failure.
	LaunchErrorUnknown LaunchErrorKind = "unknown"
	// LaunchErrorUnavailable indicates the kernel endpoint is unreachable.
	LaunchErrorUnavailable LaunchErrorKind = "unavailable"
	// LaunchErrorSpec indicates the kernelspec cannot be launched.
	LaunchErrorSpec LaunchErrorKind = "spec"
	// LaunchErrorProcess indicates the kernel process failed to start.
	LaunchErrorProcess LaunchErrorKind = "process"
	// LaunchErrorTimeout indicates the launch timed out.
	LaunchErrorTimeout LaunchErrorKind = "timeout"
	// LaunchErrorCanceled indicates the launch was canceled.
	LaunchErrorCanceled LaunchErrorKind = "canceled"
)

// LaunchError wraps launch failures with a stable classification.
type LaunchError struct {
	Kind    LaunchErrorKind
	Op      string
	Message string
	Err     error
}

// NewLaunchError constructs a classified launch error.
func NewLaunchError(kind LaunchErrorKind, op string, err error) *LaunchError {
	return &LaunchError{Kind: kind, Op: op, Err: err}
}

func (e *LaunchError) Error() string {
	if e == nil {
		return "launch error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %v", e.Op, e.Err)
		}
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("kernel %s failed", e.Op)
	}
	return "launch error"
}

func (e *LaunchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LaunchErrorKindOf classifies err, looking through wrapping.
func LaunchErrorKindOf(err error) LaunchErrorKind {
	if err == nil {
		return ""
	}
	var launchErr *LaunchError
	if errors.As(err, &launchErr) && launchErr.Kind != "" {
		return launchErr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return LaunchErrorTimeout
	case errors.Is(err, context.Canceled):
		return LaunchErrorCanceled
	default:
		return LaunchErrorUnknown
	}
}
