// Package faults defines the typed failures raised while driving a browser.
//
// BrowserGone and TabCrash are fatal for the connection that observed them.
// Everything else is recoverable and left to the caller.
package faults

import (
	"errors"
	"fmt"
)

const (
	CodeBrowserGone = "BROWSER_GONE"
	CodeTabCrash    = "TAB_CRASH"
	CodeTimeout     = "TIMEOUT"
	CodeEvaluate    = "EVALUATE"
	CodeLogin       = "LOGIN"
	CodeUnsupported = "UNSUPPORTED"
	CodeIndex       = "INDEX"
	CodeNotFound    = "NOT_FOUND"
	CodeValidation  = "VALIDATION"
)

// Error is a typed failure. Payload holds the raw protocol bytes when a
// response could not be understood.
type Error struct {
	Code    string
	Message string
	Cause   error
	Payload []byte
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

func BrowserGone(msg string, cause error) error { return newError(CodeBrowserGone, msg, cause) }
func TabCrash(msg string, cause error) error    { return newError(CodeTabCrash, msg, cause) }
func Timeout(msg string, cause error) error     { return newError(CodeTimeout, msg, cause) }
func Login(msg string, cause error) error       { return newError(CodeLogin, msg, cause) }
func NotFound(msg string) error                 { return newError(CodeNotFound, msg, nil) }
func Validation(msg string) error               { return newError(CodeValidation, msg, nil) }

// Evaluate reports a failed or malformed script evaluation. payload may be nil.
func Evaluate(msg string, cause error, payload []byte) error {
	return &Error{Code: CodeEvaluate, Message: msg, Cause: cause, Payload: payload}
}

// Unsupported names the capability the browser does not offer.
func Unsupported(capability string) error {
	return newError(CodeUnsupported, "capability not supported: "+capability, nil)
}

func Index(i, n int) error {
	return newError(CodeIndex, fmt.Sprintf("index %d out of range [0,%d)", i, n), nil)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var fe *Error
	if !errors.As(err, &fe) {
		return ""
	}
	return fe.Code
}

func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// Has reports whether any *Error in err's chain carries code. A call on a
// connection closed by a crash is BrowserGone with the TabCrash as cause.
func Has(err error, code string) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Cause
	}
	return false
}

// Fatal reports whether err leaves the owning tab or connection unusable.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case CodeBrowserGone, CodeTabCrash:
		return true
	}
	return false
}
