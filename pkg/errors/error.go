package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 10

// Error carries an oracle error code, the client-facing message and
// optional structured details rendered in the response envelope.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Details: make(map[string]interface{}),
		Err:     cause,
		Stack:   getStack(3),
	}
}

// New creates an error whose message is the code's wire name.
func New(code ErrorCode) *Error {
	return newError(code, code.Message(), nil)
}

// Tagged creates an error whose message is "<wire name>:<subject>",
// e.g. missing_confirmation:amb_1.
func Tagged(code ErrorCode, subject string) *Error {
	msg := code.Message()
	if subject != "" {
		msg = msg + ":" + subject
	}
	return newError(code, msg, nil)
}

// Wrap attaches a code to err. An *Error is re-coded in place.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		e.Code = code
		return e
	}
	return newError(code, err.Error(), err)
}

// Wrapf wraps err under a new message; the cause stays reachable through Unwrap.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(code, fmt.Sprintf(format, args...), err)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	return e.WithDetails(map[string]interface{}{key: value})
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// GetCode extracts the error code from any error, looking through wrapping.
// Errors outside this package map to InternalServerError.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e := asError(err); e != nil {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the *Error inside err, wrapping foreign errors as internal.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e := asError(err); e != nil {
		return e
	}
	return Wrap(err, InternalServerError)
}

// Is reports whether err carries code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	e := asError(err)
	return e != nil && e.Code == code
}

func asError(err error) *Error {
	var e *Error
	if err != nil && stderrors.As(err, &e) {
		return e
	}
	return nil
}

// BadRequest is the binding failure used by the controllers.
func BadRequest(msg string) *Error {
	return New(InvalidParams).WithMessage(msg)
}

func getStack(skip int) string {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return b.String()
		}
	}
}
