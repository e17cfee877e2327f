// Package socket classifies the outcome of a send or receive on a
// connection-oriented byte stream.
package socket

import (
	"errors"
	"io"
	"net"
	"os"
)

// Status is the coarse result of a socket operation.
type Status int

const (
	// Valid means the operation completed normally.
	Valid Status = iota
	// Disconnected means the peer closed or reset the connection, or it was
	// closed locally.
	Disconnected
	// TimedOut means a deadline expired.
	TimedOut
	// Failed is any other error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Disconnected:
		return "disconnected"
	case TimedOut:
		return "timed out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusOf maps an error returned by Read or Write to a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return Valid
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return Disconnected
	case errors.Is(err, os.ErrDeadlineExceeded):
		return TimedOut
	case isPeerReset(err):
		return Disconnected
	default:
		return Failed
	}
}

// WriteFull writes all of b, reporting a short write as io.ErrShortWrite.
func WriteFull(w io.Writer, b []byte) (int, error) {
	n, err := w.Write(b)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	return n, err
}
