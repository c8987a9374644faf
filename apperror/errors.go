package apperror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can react without parsing messages
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindSelfTransfer        Kind = "self_transfer"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInvalidTransition   Kind = "invalid_transition"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindStorage             Kind = "storage"
)

// Error is the typed failure returned by every ledger operation
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches bare sentinels (only Kind set) by kind, so
// errors.Is(err, ErrInsufficientBalance) works for any wrapped instance.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrSelfTransfer        = &Error{Kind: KindSelfTransfer}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrStorage             = &Error{Kind: KindStorage}
)

// New creates an error of the given kind
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause
func Wrap(err error, kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func InvalidTransition(op, format string, args ...any) *Error {
	return New(KindInvalidTransition, op, format, args...)
}

// InsufficientBalance reports what the actor has against what was requested
func InsufficientBalance(op string, have, need int64) *Error {
	return New(KindInsufficientBalance, op, "have %d available, need %d", have, need)
}

func SelfTransfer(op string) *Error {
	return New(KindSelfTransfer, op, "cannot send palomas to yourself")
}

func Conflict(op string, err error) *Error {
	return Wrap(err, KindConcurrencyConflict, op, "concurrent update, retry")
}

func Storage(op string, err error) *Error {
	return Wrap(err, KindStorage, op, "storage unavailable")
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsRetryable reports whether a fresh attempt may succeed
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrencyConflict, KindStorage:
		return true
	default:
		return false
	}
}
