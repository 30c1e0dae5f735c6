// Package apierr defines the error taxonomy shared across the core and the
// HTTP layer: handlers catch a Kind and render it as {"error": "..."} with
// HTTP 200, per the teacher's gin.H{"error": ...} convention in
// internal/api/routes.go — no stack traces ever cross the wire.
package apierr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories a caller needs to branch on. String
// messages carry the human-readable detail; Kind carries the dispatchable
// category.
type Kind int

const (
	BadArg Kind = iota
	NotFound
	StoreFailure
	GameFinished
	NoPendingPatron
	WrongPerson
	BadGoalProgram
	InvalidArity
	ProtocolError
	NetworkFailure
	ParseFailure
)

func (k Kind) String() string {
	switch k {
	case BadArg:
		return "bad argument"
	case NotFound:
		return "not found"
	case StoreFailure:
		return "store failure"
	case GameFinished:
		return "game finished"
	case NoPendingPatron:
		return "no pending patron"
	case WrongPerson:
		return "wrong person"
	case BadGoalProgram:
		return "bad goal program"
	case InvalidArity:
		return "invalid arity"
	case ProtocolError:
		return "protocol error"
	case NetworkFailure:
		return "network failure"
	case ParseFailure:
		return "parse failure"
	default:
		return "unknown error"
	}
}

// Error is a typed error carrying a Kind plus a human message. Handlers
// switch on Kind; the message is what actually reaches the client.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

// New builds an Error with a custom message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Of extracts the Kind from err if it is (or wraps) an *Error, returning ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
