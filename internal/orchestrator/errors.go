package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/mnemosyne/core/internal/registry"
)

// ValidationError reports an invalid request (bad phase transition,
// duplicate dependency, oversized input). Surfaced synchronously; the
// operation that produced it changed no state.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// TimeoutError reports that a work item or operation exceeded its
// configured budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Budget)
}

// IOError wraps a filesystem, git, or coordination-directory failure.
// These are retried with bounded exponential backoff before the item
// goes to Error.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ExternalError wraps a failure in an external collaborator (LLM,
// storage backend, event sink). The core continues; only the affected
// item is marked.
type ExternalError struct {
	Collaborator string
	Err          error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external %s: %v", e.Collaborator, e.Err)
}
func (e *ExternalError) Unwrap() error { return e.Err }

// isConflictError reports whether err is a registry mode-incompatibility
// rejection, in which case the item stays Ready and dispatch is retried
// on a later tick rather than failing the item.
func isConflictError(err error) bool {
	var conflict *registry.ErrConflict
	return errors.As(err, &conflict)
}

// isTransient reports whether err warrants a bounded retry rather than
// an immediate transition to Error.
func isTransient(err error) bool {
	var ioErr *IOError
	var extErr *ExternalError
	return errors.As(err, &ioErr) || errors.As(err, &extErr)
}
