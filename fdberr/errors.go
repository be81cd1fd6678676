// Package fdberr defines the error taxonomy shared across the record
// layer: every component returns (or wraps) one of these kinds rather
// than an ad-hoc sentinel, so callers can branch on Kind regardless of
// which package raised the error.
package fdberr

import (
	"errors"
	"fmt"
)

// Kind enumerates the failure categories a caller may need to branch on.
type Kind string

const (
	InvalidArgument          Kind = "invalid_argument"
	NotFound                 Kind = "not_found"
	InvalidTransition        Kind = "invalid_transition"
	DuplicateIndex           Kind = "duplicate_index"
	ConcurrentSaveNotAllowed Kind = "concurrent_save_not_allowed"
	Serialization            Kind = "serialization"
	TransactionConflict      Kind = "transaction_conflict"
	Cancelled                Kind = "cancelled"
	Internal                 Kind = "internal"

	// MigrationPath family.
	EmptySchemaList      Kind = "empty_schema_list"
	DuplicateVersion     Kind = "duplicate_version"
	VersionsNotOrdered   Kind = "versions_not_ordered"
	StageCountMismatch   Kind = "stage_count_mismatch"
	StageMismatch        Kind = "stage_mismatch"
	NoMigrationPath      Kind = "no_migration_path"
	DowngradeNotSupported Kind = "downgrade_not_supported"
	CyclicMigrationPath  Kind = "cyclic_migration_path"
)

// Error is the concrete error type raised by every package in this
// module. Entity carries an identifier of the affected record/index
// where applicable (spec §7 "User-visible failure behavior").
type Error struct {
	Kind    Kind
	Entity  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Message, e.Entity, e.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Entity)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, which
// lets callers write errors.Is(err, fdberr.New(fdberr.NotFound, "", "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, entity, message string) *Error {
	return &Error{Kind: kind, Entity: entity, Message: message}
}

// Wrap constructs an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, entity, message string, cause error) *Error {
	return &Error{Kind: kind, Entity: entity, Message: message, Err: cause}
}

// sentinel builds a zero-entity, zero-message error usable purely for
// errors.Is comparisons, e.g. errors.Is(err, fdberr.NotFoundSentinel).
func sentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	NotFoundSentinel          = sentinel(NotFound)
	InvalidTransitionSentinel = sentinel(InvalidTransition)
	DuplicateIndexSentinel    = sentinel(DuplicateIndex)
)

// KindOf extracts the Kind from err, returning ("", false) if err is
// not (or does not wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsNotFound(err error) bool          { return Is(err, NotFound) }
func IsInvalidTransition(err error) bool { return Is(err, InvalidTransition) }
func IsDuplicateIndex(err error) bool    { return Is(err, DuplicateIndex) }
func IsConcurrentSave(err error) bool    { return Is(err, ConcurrentSaveNotAllowed) }
func IsTransactionConflict(err error) bool { return Is(err, TransactionConflict) }
