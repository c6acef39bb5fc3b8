package rpc

import (
	"errors"
	"fmt"

	"github.com/roach88/debtsync/internal/task"
)

// ErrorKind categorizes how a call failed.
type ErrorKind string

const (
	// KindTimeout: no correlated reply arrived before the call deadline.
	KindTimeout ErrorKind = "TIMEOUT"

	// KindProtocol: the transport failed (publish error, connection loss) or
	// the reply could not be decoded.
	KindProtocol ErrorKind = "PROTOCOL"

	// KindCanceled: the caller's context was canceled before a reply arrived.
	KindCanceled ErrorKind = "CANCELED"
)

// ErrClosed is the cause reported for calls made on, or pending in, a closed client.
var ErrClosed = errors.New("rpc client closed")

// Error is returned by Client.Call for every failed call.
//
// A reply with success=false is NOT an Error: the call itself succeeded and
// the caller decides what the worker's failure means.
type Error struct {
	Kind          ErrorKind
	Task          task.Name
	CorrelationID string
	Message       string
	Err           error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (task=%s, correlation_id=%s)", e.Kind, e.Message, e.Task, e.CorrelationID)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is, or wraps, a timeout Error.
func IsTimeout(err error) bool {
	return hasKind(err, KindTimeout)
}

// IsProtocol reports whether err is, or wraps, a protocol Error.
func IsProtocol(err error) bool {
	return hasKind(err, KindProtocol)
}

// IsCanceled reports whether err is, or wraps, a canceled Error.
func IsCanceled(err error) bool {
	return hasKind(err, KindCanceled)
}

func hasKind(err error, kind ErrorKind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

func newTimeoutError(name task.Name, id string) *Error {
	return &Error{
		Kind:          KindTimeout,
		Task:          name,
		CorrelationID: id,
		Message:       "no reply before deadline",
	}
}

func newProtocolError(name task.Name, id, msg string, err error) *Error {
	return &Error{
		Kind:          KindProtocol,
		Task:          name,
		CorrelationID: id,
		Message:       msg,
		Err:           err,
	}
}
