// Package perr defines the typed error kinds surfaced across the patch
// engine. Every component-local recoverable condition (a probe timing out, a
// readability check) stays a bool or a StageResult; these kinds are reserved
// for conditions that invalidate the current release application or the
// Patcher as a whole and must be raised to the caller.
package perr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind identifies one of the exhaustive error categories.
type Kind int

const (
	// KindInvalidResource means a resource (manifest or payload) could not
	// be fetched.
	KindInvalidResource Kind = iota
	// KindInvalidManifest means a document could not be parsed or violates
	// the wire schema.
	KindInvalidManifest
	// KindMissingNode means a release manifest is missing a required child
	// node.
	KindMissingNode
	// KindMissingAttribute means a release manifest node is missing a
	// required attribute.
	KindMissingAttribute
	// KindIntegrityViolation means a file is missing, unreadable, or has
	// the wrong digest.
	KindIntegrityViolation
	// KindInvalidState means the caller invoked an operation out of order
	// (e.g. apply before identify).
	KindInvalidState
	// KindInternal means an unexpected condition occurred internally.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidResource:
		return "InvalidResource"
	case KindInvalidManifest:
		return "InvalidManifest"
	case KindMissingNode:
		return "MissingNode"
	case KindMissingAttribute:
		return "MissingAttribute"
	case KindIntegrityViolation:
		return "IntegrityViolation"
	case KindInvalidState:
		return "InvalidState"
	case KindInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Error is a typed, stack-carrying error. Two Errors compare equal under
// errors.Is when their Kind matches, regardless of message — callers that
// need to distinguish "missing" from "permission denied" from "wrong
// digest" should match on Kind, not on the message text.
type Error struct {
	Kind Kind
	msg  string
	err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, &perr.Error{Kind: perr.KindInvalidState}) matches any
// InvalidState error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error of the given kind with a stack trace attached.
func New(kind Kind, msg string) error {
	return errors.WithStack(&Error{Kind: kind, msg: msg})
}

// Newf is like New but with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and msg to an underlying cause, preserving it for
// errors.Unwrap/errors.As while adding a stack trace at the call site.
func Wrap(kind Kind, msg string, cause error) error {
	return errors.WithStack(&Error{Kind: kind, msg: msg, err: cause})
}

// InvalidResource builds a KindInvalidResource error for the given URI.
func InvalidResource(uri string, cause error) error {
	if cause != nil {
		return Wrap(KindInvalidResource, "resource could not be fetched: "+uri, cause)
	}
	return New(KindInvalidResource, "resource could not be fetched: "+uri)
}

// InvalidManifest builds a KindInvalidManifest error.
func InvalidManifest(reason string) error {
	return New(KindInvalidManifest, reason)
}

// MissingNode builds a KindMissingNode error describing a structural gap in
// a release manifest.
func MissingNode(release, parent, child string) error {
	return Newf(KindMissingNode, "release %q: node %q is missing required child %q", release, parent, child)
}

// MissingAttribute builds a KindMissingAttribute error.
func MissingAttribute(release, node, attr string) error {
	return Newf(KindMissingAttribute, "release %q: node %q is missing required attribute %q", release, node, attr)
}

// IntegrityViolation builds a KindIntegrityViolation error.
func IntegrityViolation(detail string) error {
	return New(KindIntegrityViolation, detail)
}

// InvalidState builds a KindInvalidState error describing API misuse.
func InvalidState(detail string) error {
	return New(KindInvalidState, detail)
}

// Internal builds a KindInternal error with enough context to diagnose.
func Internal(detail string) error {
	return New(KindInternal, detail)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
