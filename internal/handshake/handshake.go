// Package handshake runs the client side of the SOCKS5, SOCKS4 and HTTP
// CONNECT proxy handshakes over an already connected socket.
//
// Each variant is a short straight-line exchange: send a request, read the
// reply, decode it, decide. Nothing is retried. The first failing step ends
// the handshake with an *Error naming the step and the Reason.
package handshake

import (
	"context"
	"io"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/resolve"
	"github.com/die-net/burrow/internal/socket"
)

// DefaultSettleDelay is how long the HTTP handshake waits after sending
// CONNECT before reading the proxy's answer.
const DefaultSettleDelay = 100 * time.Millisecond

// Handshaker negotiates a tunnel to dst over conn.
//
// On success the returned conn carries tunnel traffic. It is conn itself
// unless the proxy sent tunnel bytes along with its reply, in which case it
// replays those first.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn, dst Endpoint) (Result, error)
}

// Result is a successful handshake.
type Result struct {
	Conn net.Conn
	// Detail is what the proxy reported, e.g. the SOCKS5 bound address or
	// the HTTP status line.
	Detail string
}

// Options configure the handshakers built by New.
type Options struct {
	// Resolver turns destination hosts into IPv4 for SOCKS4 and SOCKS5.
	// Defaults to resolve.System{}.
	Resolver resolve.Resolver
	// Credentials are sent as Basic auth by the HTTP handshake.
	Credentials Credentials
	// SettleDelay applies to the HTTP handshake. Zero means
	// DefaultSettleDelay; negative disables the wait.
	SettleDelay time.Duration
	Log         *zap.Logger
}

// New returns the Handshaker for v.
func New(v Variant, opts Options) (Handshaker, error) {
	if opts.Resolver == nil {
		opts.Resolver = resolve.System{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	switch v {
	case Socks5:
		return &SOCKS5{Resolver: opts.Resolver, Log: opts.Log}, nil
	case Socks4:
		return &SOCKS4{Resolver: opts.Resolver, Log: opts.Log}, nil
	case HTTP:
		delay := opts.SettleDelay
		if delay == 0 {
			delay = DefaultSettleDelay
		}
		return &HTTPConnect{Credentials: opts.Credentials, SettleDelay: delay, Log: opts.Log}, nil
	default:
		return nil, newError(v, "", InvalidParameters, nil)
	}
}

func send(v Variant, step string, conn net.Conn, b []byte) error {
	if _, err := socket.WriteFull(conn, b); err != nil {
		return ioError(v, step, err)
	}
	return nil
}

func recv(v Variant, step string, conn io.Reader, b []byte) error {
	if _, err := io.ReadFull(conn, b); err != nil {
		return ioError(v, step, err)
	}
	return nil
}

func resolveDest(ctx context.Context, v Variant, r resolve.Resolver, host string) (netip.Addr, error) {
	a, err := r.Resolve(ctx, host)
	if err != nil {
		return netip.Addr{}, newError(v, "resolve", AddressNotResolvable, err)
	}
	return a, nil
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
