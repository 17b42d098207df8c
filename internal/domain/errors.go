package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for synchronous validation and store outcomes. Callers
// inspect these with errors.Is after any amount of wrapping.
var (
	ErrInvalidPlan        = errors.New("invalid plan type: must be basic or pro")
	ErrPortRangeExhausted = errors.New("no available ports in range")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrDuplicatePort      = errors.New("port already assigned")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrTemplateNotFound   = errors.New("no manifest template for plan type")
)

// ResourceCreationError wraps a platform failure while creating one of the
// instance's cluster resources. Resource names which of the three failed.
type ResourceCreationError struct {
	Resource string // "persistentvolumeclaim", "deployment", "service"
	Name     string
	Err      error
}

func (e *ResourceCreationError) Error() string {
	return fmt.Sprintf("failed to create %s %q: %v", e.Resource, e.Name, e.Err)
}

func (e *ResourceCreationError) Unwrap() error { return e.Err }

// ResourceDeletionError wraps a platform failure while deleting a cluster
// resource. "Not found" outcomes are never reported as this error.
type ResourceDeletionError struct {
	Resource string
	Name     string
	Err      error
}

func (e *ResourceDeletionError) Error() string {
	return fmt.Sprintf("failed to delete %s %q: %v", e.Resource, e.Name, e.Err)
}

func (e *ResourceDeletionError) Unwrap() error { return e.Err }

// StatusQueryError wraps a failed live-status query against the platform.
type StatusQueryError struct {
	UserID string
	Err    error
}

func (e *StatusQueryError) Error() string {
	return fmt.Sprintf("failed to query pod status for user %q: %v", e.UserID, e.Err)
}

func (e *StatusQueryError) Unwrap() error { return e.Err }
