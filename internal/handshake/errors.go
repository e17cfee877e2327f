package handshake

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/die-net/burrow/internal/resolve"
	"github.com/die-net/burrow/internal/socket"
	"github.com/die-net/burrow/internal/wire"
)

// Reason classifies why opening or negotiating a tunnel failed.
type Reason int

const (
	None Reason = iota
	InvalidParameters
	ConnectFailed
	AddressNotResolvable
	WireDecodeError
	UnsupportedAuthMethod
	ProxyRejected
	ProtocolVersionMismatch
	IoError
)

func (r Reason) String() string {
	switch r {
	case None:
		return "none"
	case InvalidParameters:
		return "invalid parameters"
	case ConnectFailed:
		return "connect failed"
	case AddressNotResolvable:
		return "address not resolvable"
	case WireDecodeError:
		return "wire decode error"
	case UnsupportedAuthMethod:
		return "unsupported auth method"
	case ProxyRejected:
		return "proxy rejected"
	case ProtocolVersionMismatch:
		return "protocol version mismatch"
	case IoError:
		return "i/o error"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// NoCode marks an Error that carries no reply code or offending byte.
const NoCode = -1

// Error describes a failed step of a handshake.
type Error struct {
	Reason  Reason
	Variant Variant
	// Step names the exchange that failed, e.g. "greeting" or "connect".
	Step string
	// Code is the proxy's reply code or the offending byte, or NoCode.
	Code int
	// Status is the socket status for IoError.
	Status socket.Status
	// Msg is a human readable description of Code.
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Variant != noVariant {
		b.WriteString(e.Variant.String())
		if e.Step != "" {
			b.WriteString(" ")
		}
	}
	b.WriteString(e.Step)
	b.WriteString(": ")
	b.WriteString(e.Reason.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	switch {
	case e.Code == NoCode:
	case e.Variant == HTTP:
		fmt.Fprintf(&b, " (status %d)", e.Code)
	default:
		fmt.Fprintf(&b, " (code 0x%02x)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf returns the Reason carried by err, or None when err is nil and
// IoError when err is not a handshake error.
func ReasonOf(err error) Reason {
	if err == nil {
		return None
	}
	var he *Error
	if errors.As(err, &he) {
		return he.Reason
	}
	return IoError
}

// noVariant marks errors raised before any handshake variant ran.
const noVariant Variant = -1

// SetupError reports a failure outside a handshake, such as bad endpoints
// or a failed connect to the proxy.
func SetupError(step string, reason Reason, err error) *Error {
	return newError(noVariant, step, reason, err)
}

func newError(v Variant, step string, reason Reason, err error) *Error {
	return &Error{Reason: reason, Variant: v, Step: step, Code: NoCode, Err: err}
}

func rejected(v Variant, step string, code byte, msg string) *Error {
	return &Error{Reason: ProxyRejected, Variant: v, Step: step, Code: int(code), Msg: msg}
}

func unsupportedAuth(v Variant, method byte, msg string) *Error {
	return &Error{Reason: UnsupportedAuthMethod, Variant: v, Step: "greeting", Code: int(method), Msg: msg}
}

// ioError wraps a failed send or receive. A frame cut short after some bytes
// arrived is a decode error, not a transport one.
func ioError(v Variant, step string, err error) *Error {
	if errors.Is(err, wire.ErrShortFrame) {
		return newError(v, step, WireDecodeError, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrShortBuffer) {
		return newError(v, step, WireDecodeError, fmt.Errorf("%w: %w", wire.ErrShortFrame, err))
	}
	e := newError(v, step, IoError, err)
	e.Status = socket.StatusOf(err)
	return e
}

// decodeError classifies an error from the wire package.
func decodeError(v Variant, step string, err error) *Error {
	switch {
	case errors.Is(err, wire.ErrVersion):
		return newError(v, step, ProtocolVersionMismatch, err)
	case errors.Is(err, resolve.ErrNotResolvable):
		return newError(v, step, AddressNotResolvable, err)
	default:
		return newError(v, step, WireDecodeError, err)
	}
}
