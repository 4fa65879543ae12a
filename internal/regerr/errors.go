// Package regerr defines the registry error taxonomy: sentinel errors for
// conditions callers match with errors.Is, and typed errors carrying detail
// for conditions callers unpack with errors.As.
package regerr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested schema ID, subject, or version
// does not exist.
var ErrNotFound = errors.New("registry: not found")

// ErrMalformedEnvelope is returned by the wire codec when a message is too
// short to carry the envelope header or carries an unknown format marker.
var ErrMalformedEnvelope = errors.New("wire: malformed envelope")

// ErrRegistryUnavailable is returned when the registry or its storage
// backend cannot be reached within the allowed time. Already-cached schema
// IDs are unaffected by it.
var ErrRegistryUnavailable = errors.New("registry: unavailable")

// Violation describes one field-level compatibility rule broken against one
// baseline version.
type Violation struct {
	BaselineVersion uint32 `json:"baseline_version"`
	Field           string `json:"field"`
	Rule            string `json:"rule"`
	Message         string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("v%d %s %s: %s", v.BaselineVersion, v.Field, v.Rule, v.Message)
}

// RejectedError indicates a candidate schema failed the subject's
// compatibility policy. It always carries the complete violation list, never
// just the first one found.
type RejectedError struct {
	Subject    string
	Mode       string
	Violations []Violation
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("schema rejected for subject %q under %s: %d violation(s)", e.Subject, e.Mode, len(e.Violations))
}

// ParseError indicates a raw definition could not be analyzed into a field
// model. Registration aborts before any compatibility check runs.
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s definition: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConflictError indicates a store or allocator invariant was violated, such
// as a duplicate schema ID or a non-contiguous version. It is an internal
// consistency fault: the registration halts and the caller decides whether
// to retry from scratch.
type ConflictError struct {
	Detail string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage conflict: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("storage conflict: %s", e.Detail)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
