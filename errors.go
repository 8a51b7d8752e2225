package dso

import (
	"errors"
	"strings"
)

// Kind categorizes an Error.
type Kind string

const (
	KindLoad           Kind = "load"            // library failed to open
	KindMissingEntry   Kind = "missing_entry"   // main entry requested without indirection symbol
	KindCorruptImports Kind = "corrupt_imports" // nested-import blob present but malformed
	KindUnknownKind    Kind = "unknown_kind"    // no binary loader registered for a kind
	KindNotFound       Kind = "not_found"       // symbol or function not exported
	KindReleased       Kind = "released"        // use of a released Func or Module
	KindCall           Kind = "call"            // callee reported failure
)

// Error is the structured error returned by module construction and lookups.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	Name   string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dso")
	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Name != "" {
		b.WriteString(" symbol ")
		b.WriteString(e.Name)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

var (
	// ErrLoad matches errors raised when a library can not be opened.
	ErrLoad = &Error{Kind: KindLoad}
	// ErrMissingEntry matches a main entry lookup on an artifact without the indirection symbol.
	ErrMissingEntry = &Error{Kind: KindMissingEntry}
	// ErrCorruptImports matches a malformed nested-import blob.
	ErrCorruptImports = &Error{Kind: KindCorruptImports}
	// ErrUnknownKind matches an import descriptor whose kind has no registered loader.
	ErrUnknownKind = &Error{Kind: KindUnknownKind}
	// ErrNotFound matches an absent function. It is an ordinary outcome, not a failure of the module.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrReleased matches use of a released Func or a destroyed Module.
	ErrReleased = &Error{Kind: KindReleased}
	// ErrCall matches a failure reported by the called function.
	ErrCall = &Error{Kind: KindCall}
)

// IsFatal reports whether err invalidates the artifact itself rather than a single lookup.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return err != nil
	}
	switch e.Kind {
	case KindLoad, KindMissingEntry, KindCorruptImports, KindUnknownKind:
		return true
	}
	return false
}

func notFound(op, name string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Name: name}
}
