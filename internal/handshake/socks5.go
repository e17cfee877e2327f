package handshake

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/resolve"
	"github.com/die-net/burrow/internal/wire"
)

// SOCKS5 is the RFC 1928 client handshake with an IPv4 CONNECT.
//
// The greeting offers no-auth and username/password. A server choosing
// username/password fails the handshake: that sub-negotiation is not
// implemented.
type SOCKS5 struct {
	Resolver resolve.Resolver
	Log      *zap.Logger
}

func (h *SOCKS5) Handshake(ctx context.Context, conn net.Conn, dst Endpoint) (Result, error) {
	log := nopIfNil(h.Log)

	if err := send(Socks5, "greeting", conn, wire.EncodeSocks5Greeting()); err != nil {
		return Result{}, err
	}

	var greet [wire.Socks5GreetingReplyLen]byte
	if err := recv(Socks5, "greeting", conn, greet[:]); err != nil {
		return Result{}, err
	}
	method, err := wire.DecodeSocks5Greeting(greet[:])
	if err != nil {
		e := decodeError(Socks5, "greeting", err)
		e.Code = int(greet[0])
		return Result{}, e
	}
	log.Debug("socks5 method selected", zap.Uint8("method", method))

	switch method {
	case wire.MethodNoAuth:
	case wire.MethodNoAcceptable:
		return Result{}, unsupportedAuth(Socks5, method, "no acceptable methods")
	case wire.MethodUserPass:
		return Result{}, unsupportedAuth(Socks5, method, "username/password authentication not supported")
	default:
		return Result{}, unsupportedAuth(Socks5, method, "server selected a method that was not offered")
	}

	addr, err := resolveDest(ctx, Socks5, h.Resolver, dst.Host)
	if err != nil {
		return Result{}, err
	}
	req, err := wire.EncodeSocks5Connect(addr, dst.Port)
	if err != nil {
		return Result{}, newError(Socks5, "connect", AddressNotResolvable, err)
	}
	if err := send(Socks5, "connect", conn, req); err != nil {
		return Result{}, err
	}

	var hdr [wire.Socks5ReplyHeaderLen]byte
	if err := recv(Socks5, "connect", conn, hdr[:]); err != nil {
		return Result{}, err
	}
	rh, err := wire.DecodeSocks5ReplyHeader(hdr[:])
	if err != nil {
		e := decodeError(Socks5, "connect", err)
		if e.Reason == ProtocolVersionMismatch {
			e.Code = int(hdr[0])
		} else {
			e.Code = int(hdr[1])
		}
		return Result{}, e
	}
	if rh.Reply != wire.Socks5Succeeded {
		return Result{}, rejected(Socks5, "connect", byte(rh.Reply), rh.Reply.String())
	}

	bound, err := readSocks5Bound(conn, rh.Atyp)
	if err != nil {
		return Result{}, err
	}
	log.Debug("socks5 tunnel established", zap.String("dest", dst.String()), zap.String("bound", bound))

	return Result{Conn: conn, Detail: "bound " + bound}, nil
}

// readSocks5Bound consumes BND.ADDR and BND.PORT so they don't leak into the
// tunnel.
func readSocks5Bound(conn net.Conn, atyp byte) (string, error) {
	n, err := wire.Socks5BoundAddrLen(atyp)
	if err != nil {
		e := decodeError(Socks5, "connect", err)
		e.Code = int(atyp)
		return "", e
	}
	if atyp == wire.AtypDomain {
		var l [1]byte
		if err := recv(Socks5, "connect", conn, l[:]); err != nil {
			return "", err
		}
		n = int(l[0])
	}

	buf := make([]byte, n+2)
	if err := recv(Socks5, "connect", conn, buf); err != nil {
		return "", err
	}
	bound, err := wire.DecodeSocks5BoundAddr(atyp, buf[:n], buf[n:])
	if err != nil {
		return "", decodeError(Socks5, "connect", err)
	}
	return bound, nil
}
