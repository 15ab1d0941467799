// Package errs defines the error taxonomy shared by the queue, scheduler and
// leader packages.
//
// Every error carries a Kind. Callers match on kinds with errors.Is against
// the exported sentinels:
//
//	if errors.Is(err, errs.Validation) { ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for propagation and presentation.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindStore
	KindState
	KindInvalidState
	KindLock
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindStore:
		return "store"
	case KindState:
		return "state"
	case KindInvalidState:
		return "invalid_state"
	case KindLock:
		return "lock"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Sentinel kinds for errors.Is.
var (
	Validation   = &Error{Kind: KindValidation}
	Auth         = &Error{Kind: KindAuth}
	Store        = &Error{Kind: KindStore}
	State        = &Error{Kind: KindState}
	InvalidState = &Error{Kind: KindInvalidState}
	Lock         = &Error{Kind: KindLock}
	NotFound     = &Error{Kind: KindNotFound}
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// E builds a classified error. Msg and Err are both optional.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage renders err as the short message shown to an interactive caller.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong"
	}
	switch e.Kind {
	case KindValidation:
		if e.Msg != "" {
			return e.Msg
		}
		return "Invalid request"
	case KindAuth:
		return "Not signed in"
	case KindStore:
		return "Dispense failed"
	case KindState, KindInvalidState:
		if e.Msg != "" {
			return e.Msg
		}
		return "Command can no longer be changed"
	case KindNotFound:
		return "Not found"
	case KindLock:
		return "Scheduler busy"
	default:
		return "Something went wrong"
	}
}
