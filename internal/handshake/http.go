package handshake

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/socket"
	"github.com/die-net/burrow/internal/wire"
)

// HTTPConnect issues an HTTP/1.1 CONNECT and accepts any response whose
// status line contains "HTTP/1.1 200".
type HTTPConnect struct {
	// Credentials are sent as Basic auth when both halves are set.
	Credentials Credentials
	// SettleDelay is waited out after the request is sent. Zero or negative
	// skips the wait.
	SettleDelay time.Duration
	Log         *zap.Logger
}

func (h *HTTPConnect) Handshake(ctx context.Context, conn net.Conn, dst Endpoint) (Result, error) {
	log := nopIfNil(h.Log)

	var user, pass string
	if h.Credentials.Present() {
		user, pass = h.Credentials.Username, h.Credentials.Password
	}
	req, err := wire.EncodeHTTPConnect(dst.Host, dst.Port, user, pass)
	if err != nil {
		return Result{}, newError(HTTP, "connect", InvalidParameters, err)
	}
	if err := send(HTTP, "connect", conn, req); err != nil {
		return Result{}, err
	}

	if err := settle(ctx, h.SettleDelay); err != nil {
		e := newError(HTTP, "connect", IoError, err)
		e.Status = socket.Failed
		if errors.Is(err, context.DeadlineExceeded) {
			e.Status = socket.TimedOut
		}
		return Result{}, e
	}

	br := bufio.NewReader(conn)
	line, err := wire.ReadHTTPConnectResponse(br)
	switch {
	case err != nil && line == "":
		return Result{}, ioError(HTTP, "response", err)
	case !wire.HTTPConnectGranted(line):
		e := rejected(HTTP, "response", 0, line)
		e.Code = wire.HTTPStatusCode(line)
		return Result{}, e
	case err != nil:
		return Result{}, newError(HTTP, "response", WireDecodeError, err)
	}
	log.Debug("http tunnel established", zap.String("dest", dst.String()), zap.String("status", line))

	res := Result{Conn: conn, Detail: line}
	if br.Buffered() > 0 {
		res.Conn = &bufferedConn{Conn: conn, r: br}
	}
	return res, nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bufferedConn returns bytes the proxy sent after its response headers
// before reading from the socket again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	if c.r.Buffered() > 0 {
		return c.r.Read(b)
	}
	return c.Conn.Read(b)
}

// CloseWrite shuts down the write half when the underlying conn supports it.
func (c *bufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
