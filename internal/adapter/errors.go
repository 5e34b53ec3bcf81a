package adapter

import (
	"errors"
	"fmt"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("adapter: stream closed")

// ConnectionError means the backend could not be reached, or the connection
// broke while reading the stream.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("backend %s unreachable: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError means a response frame could not be interpreted according to
// the backend wire format. Frame is the 1-based index of the offending frame.
type ProtocolError struct {
	Frame  int
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream protocol error at frame %d: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("upstream protocol error at frame %d: %s", e.Frame, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// BackendError is an error reported by the backend itself, either as a non-2xx
// response (StatusCode set) or as an in-band error frame (StatusCode 0).
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return "backend error: " + e.Message
	}
	return fmt.Sprintf("backend http %d: %s", e.StatusCode, e.Message)
}
