package api

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ValidationError rejects a malformed request synchronously; it is never
// worth retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError surfaces an operation on a nonexistent entity; the caller
// decides whether to no-op or tell the user.
type NotFoundError struct {
	Resource string
	Id       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Id)
}

func notFound(resource, id string) error {
	return &NotFoundError{Resource: resource, Id: id}
}

// InvariantError rejects a write that would violate a cross-entity
// invariant, such as a second concurrently active emergency alert.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

// ErrAlertActive is returned by AlertService.Create while another alert is
// still active. The caller must resolve the existing alert first.
var ErrAlertActive = &InvariantError{Msg: "an emergency alert is already active"}

// ForbiddenError is produced by the injected Policy when the actor's role
// does not permit the operation.
type ForbiddenError struct {
	Actor  string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not %s", e.Actor, e.Action)
}

// IsTransient reports whether err looks like a temporary store failure.
// Idempotent callers (heartbeat, markRead) should retry with backoff;
// user-initiated sends surface the failure instead.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}

// IsNotFound also recognizes the raw grpc NotFound the firestore client
// returns before the repository wraps it.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return status.Code(err) == codes.NotFound
}
