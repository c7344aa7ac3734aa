package journey

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
)

// Error is a sentinel error carrying the gRPC code callers should surface
type Error struct {
	msg  string
	code codes.Code
}

// NewError creates a coded sentinel error
func NewError(msg string, code codes.Code) *Error {
	return &Error{msg: msg, code: code}
}

func (e *Error) Error() string { return e.msg }

// Code returns the gRPC code for the error
func (e *Error) Code() codes.Code { return e.code }

// ErrNetworkFailure marks a failed call to an external collaborator
var ErrNetworkFailure = NewError("network failure", codes.Unavailable)

// Coded is implemented by errors that know which gRPC code describes them
type Coded interface {
	Code() codes.Code
}

// StatusCode classifies an engine error for the UI or transport layer.
// All engine failures are recoverable by retrying the triggering action.
func StatusCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}

	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}

	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return codes.Unknown
}
