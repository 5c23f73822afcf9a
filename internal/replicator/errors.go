package replicator

import "fmt"

// Domain tags which collaborator an Error originated from.
type Domain string

const (
	DomainReplicator Domain = "replicator"
	DomainTransport   Domain = "transport"
)

// Code is a stable error code within a Domain. Kept as a (Domain, Code)
// tagged pair rather than collapsed into a single integer, so a caller can
// branch on either axis independently.
type Code string

const (
	CodeAlreadyStarted         Code = "AlreadyStarted"
	CodeTransportInitFailed    Code = "TransportInitFailed"
	CodeUndefinedSource        Code = "UndefinedSource"
	CodeLocalDatastoreDeleted  Code = "LocalDatastoreDeleted"
	CodeHeaderValidationFailed Code = "HeaderValidationFailed"
)

// Error is the tagged-variant error shape used throughout the replicator:
// every failure keeps its originating Domain and Code alongside the
// underlying cause, matching the teacher's own habit of wrapping rather
// than discarding the original error (internal/merge/merge.go,
// internal/storage).
type Error struct {
	Domain Domain
	Code   Code
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Domain, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Domain, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(domain Domain, code Code, cause error) *Error {
	return &Error{Domain: domain, Code: code, Err: cause}
}

// projectTransportError implements the controller's error-projection rule
// (spec §4.5): a transport error tagged LocalDatastoreDeleted is re-tagged
// into the replicator domain; every other transport error passes through
// unchanged.
func projectTransportError(err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok && te.Domain == DomainTransport && te.Code == CodeLocalDatastoreDeleted {
		return newError(DomainReplicator, CodeLocalDatastoreDeleted, te.Err)
	}
	return err
}
