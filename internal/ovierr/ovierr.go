// Package ovierr defines the error-code taxonomy that crosses the Session
// API boundary, and an Error type that carries one alongside a message.
package ovierr

import "fmt"

// Code is a Session-surface error code. Zero means no error.
type Code int

// Error codes surfaced to Session callers and callbacks.
const (
	None                    Code = 0
	InvalidParameter        Code = -1
	InvalidOperation        Code = -2
	PermissionDenied        Code = -3
	InvalidState            Code = -4
	NoSuchFile              Code = -5
	NotSupportedMedia       Code = -6
	NotSupportedEffect      Code = -7
	NotSupportedEffectAttr  Code = -8
	InvalidEffectAttrValue  Code = -9
)

func (c Code) String() string {
	switch c {
	case None:
		return "None"
	case InvalidParameter:
		return "InvalidParameter"
	case InvalidOperation:
		return "InvalidOperation"
	case PermissionDenied:
		return "PermissionDenied"
	case InvalidState:
		return "InvalidState"
	case NoSuchFile:
		return "NoSuchFile"
	case NotSupportedMedia:
		return "NotSupportedMedia"
	case NotSupportedEffect:
		return "NotSupportedEffect"
	case NotSupportedEffectAttr:
		return "NotSupportedEffectAttr"
	case InvalidEffectAttrValue:
		return "InvalidEffectAttrValue"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error wraps a Code with a human-readable message. It is the only error
// type that crosses the Session API boundary; internal plumbing errors
// use plain fmt.Errorf/errors.New and are reported via Wrap when they
// reach the surface.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap attaches a Code to an underlying error, preserving it for errors.Is/As.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Msg: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the Code from err if it is (or wraps) an *Error, or
// InvalidOperation for any other non-nil error.
func CodeOf(err error) Code {
	if err == nil {
		return None
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return InvalidOperation
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
