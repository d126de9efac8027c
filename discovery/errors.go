package discovery

import (
	"errors"
)

// ErrNotFound means no device answered before the timeout.
var ErrNotFound = errors.New("x32 discovery: no reply")

// SocketError is a failure of the network stack while discovering, e.g. a
// denied broadcast permission or an unreachable network.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	return "x32 discovery: " + e.Op + ": " + e.Err.Error()
}

func (e *SocketError) Unwrap() error {
	return e.Err
}
