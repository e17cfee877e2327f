package handshake

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/resolve"
	"github.com/die-net/burrow/internal/wire"
)

// SOCKS4 sends a single combined CONNECT request with an empty user id.
type SOCKS4 struct {
	Resolver resolve.Resolver
	Log      *zap.Logger
}

func (h *SOCKS4) Handshake(ctx context.Context, conn net.Conn, dst Endpoint) (Result, error) {
	log := nopIfNil(h.Log)

	addr, err := resolveDest(ctx, Socks4, h.Resolver, dst.Host)
	if err != nil {
		return Result{}, err
	}
	req, err := wire.EncodeSocks4Connect(addr, dst.Port)
	if err != nil {
		return Result{}, newError(Socks4, "connect", AddressNotResolvable, err)
	}
	if err := send(Socks4, "connect", conn, req); err != nil {
		return Result{}, err
	}

	var rep [wire.Socks4ReplyLen]byte
	if err := recv(Socks4, "connect", conn, rep[:]); err != nil {
		return Result{}, err
	}
	cd, err := wire.DecodeSocks4Reply(rep[:])
	if err != nil {
		e := decodeError(Socks4, "connect", err)
		if e.Reason == ProtocolVersionMismatch {
			e.Code = int(rep[0])
		} else {
			e.Code = int(rep[1])
		}
		return Result{}, e
	}
	if cd != wire.Socks4Granted {
		return Result{}, rejected(Socks4, "connect", byte(cd), cd.String())
	}
	log.Debug("socks4 tunnel established", zap.String("dest", dst.String()))

	return Result{Conn: conn, Detail: cd.String()}, nil
}
