package dispatch

import "errors"

// Sentinel errors for the transition guard. Logical errors are surfaced to
// the caller immediately and never retried; only ErrTransientStore is safe
// to retry.
var (
	// ErrIllegalTransition means the requested move is not an edge of the
	// case lattice from the current status.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrStateConflict means the optimistic guard found the precondition no
	// longer holds, typically because a concurrent actor got there first.
	ErrStateConflict = errors.New("state conflict")

	// ErrUnauthorized means the actor's role or hospital identity does not
	// carry the authority the transition requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation means the request payload is malformed or incomplete.
	ErrValidation = errors.New("validation failure")

	// ErrNotFound means the referenced case does not exist.
	ErrNotFound = errors.New("case not found")

	// ErrTransientStore wraps connectivity-class store failures. No logical
	// precondition was evaluated, so a bounded retry is safe.
	ErrTransientStore = errors.New("transient store error")
)
