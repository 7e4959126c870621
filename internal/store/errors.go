package store

import (
	"errors"
	"fmt"
)

// Code is the NFS-flavoured error taxonomy from spec §7.
type Code uint8

// Error codes.
const (
	// CodeIO is a generic internal failure: a host-FS error that doesn't
	// map to one of the named NFS conditions below.
	CodeIO Code = iota
	CodeNoEnt
	CodeExist
	CodeNotDir
	CodeIsDir
	CodeNotEmpty
	CodeStale

	// CodeCorrupt marks on-disk state that failed to parse where a
	// well-formed value was required (the FID counter, a metadata
	// record). Distinct from CodeIO so callers can tell "couldn't read
	// it" apart from "read it, and it's garbage."
	CodeCorrupt
)

func (c Code) String() string {
	switch c {
	case CodeNoEnt:
		return "NOENT"
	case CodeExist:
		return "EXIST"
	case CodeNotDir:
		return "NOTDIR"
	case CodeIsDir:
		return "ISDIR"
	case CodeNotEmpty:
		return "NOTEMPTY"
	case CodeStale:
		return "STALE"
	case CodeCorrupt:
		return "CORRUPT"
	default:
		return "IO"
	}
}

// Error is the error type every engine operation returns on failure. It
// carries a Code so callers (notably the rpcsvc facade) can map it onto a
// wire status without string matching, and wraps an underlying cause where
// one exists so errors.Is/errors.As keep working.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

// Error includes the Code name, so the code survives transports that carry
// only the message text.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

func newErr(op string, code Code, msg string) error {
	return &Error{Op: op, Code: code, Msg: msg}
}

func wrapErr(op string, code Code, msg string, cause error) error {
	return &Error{Op: op, Code: code, Msg: msg, Err: cause}
}

// CodeOf extracts the Code from err, defaulting to CodeIO for anything that
// isn't a *Error produced by this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeIO
}
