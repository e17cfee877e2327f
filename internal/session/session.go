// Package session holds one proxied connection from the first TCP connect to
// the proxy through the handshake to raw tunnel traffic.
//
// A Session only moves forward: Unconnected, Connected, Negotiating, then
// Tunneled or Failed. A failed session is never reused; build a new one to
// retry.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/handshake"
	"github.com/die-net/burrow/internal/resolve"
)

var (
	// ErrNotTunneled is returned by Send and Receive before the handshake
	// has succeeded. The socket is not touched.
	ErrNotTunneled = errors.New("session is not tunneled")
	// ErrBadState is returned when an operation is not valid in the
	// session's current state.
	ErrBadState = errors.New("invalid session state")
)

// State is where a Session is in its lifecycle.
type State int

const (
	Unconnected State = iota
	Connected
	Negotiating
	Tunneled
	Failed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connected:
		return "connected"
	case Negotiating:
		return "negotiating"
	case Tunneled:
		return "tunneled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ContextDialer opens the TCP connection to the proxy.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config tunes how a Session reaches the proxy and negotiates.
type Config struct {
	// DialTimeout bounds the TCP connect to the proxy when Dialer is nil.
	DialTimeout time.Duration
	// NegotiationTimeout, when positive, bounds the whole handshake. The
	// deadline is cleared once the tunnel is up.
	NegotiationTimeout time.Duration
	// SettleDelay is the pause before reading an HTTP CONNECT response.
	// Zero means handshake.DefaultSettleDelay.
	SettleDelay time.Duration
	KeepAlive   net.KeepAliveConfig
	// Resolver defaults to resolve.System{}.
	Resolver resolve.Resolver
	// Dialer defaults to a net.Dialer built from DialTimeout and KeepAlive.
	Dialer ContextDialer
	Log    *zap.Logger
}

// Outcome is the result of the last Open or Negotiate.
type Outcome struct {
	Success bool
	Reason  handshake.Reason
	// Detail is what the proxy reported on success, e.g. the bound address.
	Detail string
	Err    error
}

// Session is one proxy connection and the tunnel negotiated over it.
//
// Open, Negotiate and Close may be called from any goroutine. Send and
// Receive must not be called concurrently with themselves.
type Session struct {
	id  uuid.UUID
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	state   State
	proxy   handshake.Endpoint
	dest    handshake.Endpoint
	creds   handshake.Credentials
	conn    net.Conn
	outcome Outcome

	// cancelDial aborts a Connect in progress; nil otherwise.
	cancelDial context.CancelFunc
	closed     bool
}

// New returns an Unconnected session.
func New(cfg Config) *Session {
	if cfg.Resolver == nil {
		cfg.Resolver = resolve.System{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: cfg.DialTimeout, KeepAliveConfig: cfg.KeepAlive}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	id := uuid.New()
	return &Session{
		id:  id,
		cfg: cfg,
		log: cfg.Log.With(zap.String("session", id.String())),
	}
}

// NewFromConn returns a Connected session over conn, which must already be
// connected to the proxy.
func NewFromConn(conn net.Conn, dest handshake.Endpoint, creds handshake.Credentials, cfg Config) *Session {
	s := New(cfg)
	s.state = Connected
	s.conn = conn
	s.dest = dest
	s.creds = creds
	if conn != nil {
		if p, err := handshake.ParseEndpoint(conn.RemoteAddr().String()); err == nil {
			s.proxy = p
		}
	}
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id.String()
}

// Open records dest and creds and connects to proxy. Both endpoints must
// have a host and a nonzero port, otherwise nothing is dialed. dest and creds
// are kept even when Open fails, so Connect can retry with them.
func (s *Session) Open(ctx context.Context, proxy, dest handshake.Endpoint, creds handshake.Credentials) error {
	s.mu.Lock()
	if s.state != Unconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: open while %s", ErrBadState, st)
	}
	s.proxy = proxy
	s.dest = dest
	s.creds = creds
	s.mu.Unlock()

	return s.Connect(ctx)
}

// Connect dials the proxy recorded by the last Open. Close aborts a dial in
// progress.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Unconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrBadState, st)
	}
	if s.cancelDial != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrBadState)
	}
	if s.closed {
		s.mu.Unlock()
		return handshake.SetupError("open", handshake.ConnectFailed, net.ErrClosed)
	}
	if !s.proxy.Valid() || !s.dest.Valid() {
		err := handshake.SetupError("open", handshake.InvalidParameters,
			fmt.Errorf("proxy %q dest %q: empty host or zero port", s.proxy.String(), s.dest.String()))
		s.outcome = Outcome{Reason: handshake.InvalidParameters, Err: err}
		s.mu.Unlock()
		return err
	}
	proxy, dest := s.proxy, s.dest
	dctx, cancel := context.WithCancel(ctx)
	s.cancelDial = cancel
	s.mu.Unlock()

	conn, err := s.cfg.Dialer.DialContext(dctx, "tcp", proxy.String())
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelDial = nil
	if err == nil && s.closed {
		_ = conn.Close()
		conn, err = nil, net.ErrClosed
	}
	if err != nil {
		herr := handshake.SetupError("open", handshake.ConnectFailed, err)
		s.outcome = Outcome{Reason: handshake.ConnectFailed, Err: herr}
		s.log.Debug("proxy connect failed", zap.String("proxy", proxy.String()), zap.Error(err))
		return herr
	}

	s.conn = conn
	s.state = Connected
	s.outcome = Outcome{}
	s.log.Debug("proxy connected", zap.String("proxy", proxy.String()), zap.String("dest", dest.String()))
	return nil
}

// Negotiate runs the handshake for v over the connected socket. It moves
// the session to Tunneled on success and to Failed otherwise.
func (s *Session) Negotiate(ctx context.Context, v handshake.Variant) error {
	s.mu.Lock()
	if s.state != Connected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: negotiate while %s", ErrBadState, st)
	}
	s.state = Negotiating
	conn, dest, creds := s.conn, s.dest, s.creds
	s.mu.Unlock()

	log := s.log.With(zap.Stringer("variant", v), zap.String("dest", dest.String()))

	res, err := s.negotiate(ctx, log, conn, v, dest, creds)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Failed
		s.outcome = Outcome{Reason: handshake.ReasonOf(err), Err: err}
		log.Debug("negotiation failed", zap.Stringer("reason", s.outcome.Reason), zap.Error(err))
		return err
	}
	s.state = Tunneled
	s.conn = res.Conn
	s.outcome = Outcome{Success: true, Detail: res.Detail}
	log.Debug("tunnel established", zap.String("detail", res.Detail))
	return nil
}

func (s *Session) negotiate(ctx context.Context, log *zap.Logger, conn net.Conn, v handshake.Variant, dest handshake.Endpoint, creds handshake.Credentials) (handshake.Result, error) {
	if !dest.Valid() {
		return handshake.Result{}, handshake.SetupError("negotiate", handshake.InvalidParameters,
			fmt.Errorf("dest %q: empty host or zero port", dest.String()))
	}

	h, err := handshake.New(v, handshake.Options{
		Resolver:    s.cfg.Resolver,
		Credentials: creds,
		SettleDelay: s.cfg.SettleDelay,
		Log:         log,
	})
	if err != nil {
		return handshake.Result{}, err
	}

	var deadline time.Time
	if s.cfg.NegotiationTimeout > 0 {
		deadline = time.Now().Add(s.cfg.NegotiationTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock pending I/O if ctx is canceled mid-handshake.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	res, err := h.Handshake(ctx, conn, dest)

	if !stop() && err == nil {
		err = handshake.SetupError("negotiate", handshake.IoError, context.Cause(ctx))
	}
	if err != nil {
		return handshake.Result{}, err
	}
	if !deadline.IsZero() {
		_ = conn.SetDeadline(time.Time{})
	}
	return res, nil
}

// Send writes b to the tunnel unchanged.
func (s *Session) Send(b []byte) (int, error) {
	conn, err := s.tunnel()
	if err != nil {
		return 0, err
	}
	return conn.Write(b)
}

// Receive reads tunnel bytes into b. Use socket.StatusOf to classify the
// error.
func (s *Session) Receive(b []byte) (int, error) {
	conn, err := s.tunnel()
	if err != nil {
		return 0, err
	}
	return conn.Read(b)
}

func (s *Session) tunnel() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Tunneled {
		return nil, fmt.Errorf("%w: %s", ErrNotTunneled, s.state)
	}
	if s.conn == nil {
		return nil, fmt.Errorf("%w: connection detached", ErrNotTunneled)
	}
	return s.conn, nil
}

// Conn returns the tunneled connection, or nil before the handshake
// succeeds. Ownership stays with the session unless Detach is used.
func (s *Session) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Tunneled {
		return nil
	}
	return s.conn
}

// Detach hands the tunneled connection to the caller. The session keeps no
// reference to it afterwards, so Close won't close it.
func (s *Session) Detach() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Tunneled {
		return nil, fmt.Errorf("%w: %s", ErrNotTunneled, s.state)
	}
	if s.conn == nil {
		return nil, fmt.Errorf("%w: connection detached", ErrNotTunneled)
	}
	c := s.conn
	s.conn = nil
	return c, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the result of the last Open or Negotiate.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Endpoints returns the proxy and destination the session was opened with.
func (s *Session) Endpoints() (proxy, dest handshake.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxy, s.dest
}

// Close closes the socket, if any, and aborts a Connect in progress. The
// state is left as is; later Send and Receive calls fail with net.ErrClosed
// and Connect fails with ConnectFailed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.cancelDial != nil {
		s.cancelDial()
	}
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
