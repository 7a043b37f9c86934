package bank

import "errors"

// Error taxonomy. Callers match with errors.Is; everything else wraps one
// of these or is a plain storage-layer failure.
var (
	// ErrValidation marks a malformed producer output, rejected before any
	// persistence.
	ErrValidation = errors.New("invalid producer output")

	// ErrConstitutionalViolation flags a non-compliant artifact in a
	// category that requires compliance. The artifact is still persisted
	// for audit; Store returns the ref alongside this error.
	ErrConstitutionalViolation = errors.New("constitutional violation")

	// ErrNotFound marks an operation on an unknown or deleted reference.
	ErrNotFound = errors.New("artifact not found")

	// ErrStorage marks a durable-store failure, retryable by the caller.
	ErrStorage = errors.New("storage failure")

	// ErrPolicyConflict marks an inconsistent GC policy, rejected before
	// any scan.
	ErrPolicyConflict = errors.New("gc policy conflict")
)
