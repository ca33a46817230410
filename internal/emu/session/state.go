package session

import (
	"errors"
	"fmt"
)

type State int32

const (
	DISCONNECTED State = iota
	CONNECTED
	LOGGED_IN
	RUNNING
	TERMINATED
)

func (st State) String() string {
	switch st {
	case DISCONNECTED:
		return "disconnected"
	case CONNECTED:
		return "connected"
	case LOGGED_IN:
		return "logged_in"
	case RUNNING:
		return "running"
	case TERMINATED:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(st))
}

var (
	ErrNotConnected   = errors.New("session is not connected")
	ErrBadState       = errors.New("operation not allowed in current session state")
	ErrConcurrentSend = errors.New("concurrent send before loop started")
	ErrTerminated     = errors.New("session terminated")
)

// ConnectionError is a dial or socket write failure. It ends the session.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
