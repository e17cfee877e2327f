// Package echo is a TCP echo server. Every chunk a client sends is written
// back wrapped in a configurable prefix and suffix.
package echo

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/socket"
)

// BufferSize is the largest chunk echoed in one reply.
const BufferSize = 4096

var buffers = conn.NewBufferPool(BufferSize)

type Server struct {
	Prefix   string
	Suffix   string
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
			return s.handle(c, log.With(zap.Stringer("client", c.RemoteAddr())))
		},
	}
	return srv.Serve(ctx, ln)
}

func (s *Server) handle(c net.Conn, log *zap.Logger) error {
	log.Info("client connected")
	defer log.Info("client disconnected")

	buf := buffers.Get()
	defer buffers.Put(buf)
	out := make([]byte, 0, len(s.Prefix)+BufferSize+len(s.Suffix))
	for {
		n, err := c.Read(buf)
		if n > 0 {
			log.Debug("incoming", zap.ByteString("data", buf[:n]))

			out = append(out[:0], s.Prefix...)
			out = append(out, buf[:n]...)
			out = append(out, s.Suffix...)
			if _, werr := socket.WriteFull(c, out); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || socket.StatusOf(err) == socket.Disconnected {
				return nil
			}
			return err
		}
	}
}
