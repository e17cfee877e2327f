// Package forward accepts local TCP connections and relays each one through
// its own tunnel to a fixed target.
package forward

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/dialer"
)

type Server struct {
	// Dialer opens the outbound leg, usually a *dialer.ProxyDialer.
	Dialer dialer.Dialer
	// Target is the host:port every accepted connection is relayed to.
	Target   string
	MaxConns int
	Log      *zap.Logger
}

// Serve runs until ctx is done or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	srv := &conn.Server{
		MaxConns: s.MaxConns,
		Log:      log,
		Handler: func(ctx context.Context, c net.Conn) error {
			return s.handle(ctx, c, log)
		},
	}
	return srv.Serve(ctx, ln)
}

func (s *Server) handle(ctx context.Context, c net.Conn, log *zap.Logger) error {
	start := time.Now()
	up, err := s.Dialer.DialContext(ctx, "tcp", s.Target)
	if err != nil {
		log.Warn("tunnel failed", zap.Stringer("client", c.RemoteAddr()), zap.String("target", s.Target), zap.Error(err))
		return fmt.Errorf("forward to %s: %w", s.Target, err)
	}
	log.Debug("forwarding", zap.Stringer("client", c.RemoteAddr()), zap.String("target", s.Target), zap.Duration("setup", time.Since(start)))

	return conn.CopyBidirectional(ctx, c, up)
}
