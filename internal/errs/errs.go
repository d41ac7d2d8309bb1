// Package errs holds the error taxonomy shared by the ledger core.
//
// Domain packages declare their own sentinels with New, and callers match
// either the sentinel itself or its kind:
//
//	errors.Is(err, spendingdomain.ErrInvalidAmount) // exact
//	errors.Is(err, errs.ErrInvalidInput)            // any invalid input
package errs

import "errors"

type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindUnknownEntity        Kind = "unknown_entity"
	KindConcurrencyConflict  Kind = "concurrency_conflict"
	KindUnavailable          Kind = "unavailable"
	KindPartialBatchFailure  Kind = "partial_batch_failure"
	KindConsistencyViolation Kind = "consistency_violation"
	KindInternal             Kind = "internal"
)

// Error is a coded error of a given kind.
type Error struct {
	Kind Kind
	Code string
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	if e.Code == "" {
		return string(e.Kind)
	}
	return e.Code
}

// Is matches kind-level sentinels (empty Code) by kind, coded sentinels by identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t == e
}

var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrUnknownEntity        = &Error{Kind: KindUnknownEntity}
	ErrConcurrencyConflict  = &Error{Kind: KindConcurrencyConflict}
	ErrUnavailable          = &Error{Kind: KindUnavailable}
	ErrPartialBatchFailure  = &Error{Kind: KindPartialBatchFailure}
	ErrConsistencyViolation = &Error{Kind: KindConsistencyViolation}
)

// KindOf returns the kind of the first taxonomy error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first taxonomy error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return string(KindInternal)
}
