package handshake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/burrow/internal/resolve"
	"github.com/die-net/burrow/internal/socket"
)

type staticResolver struct {
	addr  netip.Addr
	err   error
	calls atomic.Int32
}

func (r *staticResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	r.calls.Add(1)
	return r.addr, r.err
}

// run performs h against server over a pipe. The client end is closed as
// soon as the handshake fails so a server blocked on a write returns.
func run(t *testing.T, h Handshaker, dst Endpoint, server func(net.Conn) error) (Result, error) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})

	g := errgroup.Group{}
	g.Go(func() error { return server(serverConn) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := h.Handshake(ctx, clientConn, dst)
	if err != nil {
		_ = clientConn.Close()
	}
	if werr := g.Wait(); werr != nil {
		t.Fatalf("server: %v", werr)
	}
	return res, err
}

func expectReason(t *testing.T, err error, want Reason) *Error {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	var he *Error
	if !errors.As(err, &he) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if he.Reason != want {
		t.Fatalf("expected reason %v, got %v (%v)", want, he.Reason, err)
	}
	return he
}

func TestNew(t *testing.T) {
	t.Parallel()

	for _, v := range []Variant{Socks5, Socks4, HTTP} {
		h, err := New(v, Options{})
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if h == nil {
			t.Fatalf("%v: nil handshaker", v)
		}
	}

	h, err := New(HTTP, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.(*HTTPConnect).SettleDelay; got != DefaultSettleDelay {
		t.Fatalf("expected default settle delay, got %v", got)
	}

	if _, err := New(Variant(9), Options{}); ReasonOf(err) != InvalidParameters {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
}

func TestSOCKS5Success(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		atyp  byte
		addr  []byte
		port  []byte
		bound string
	}{
		{name: "ipv4", atyp: txsocks5.ATYPIPv4, addr: []byte{192, 0, 2, 1}, port: []byte{0x1f, 0x90}, bound: "192.0.2.1:8080"},
		{name: "ipv6", atyp: txsocks5.ATYPIPv6, addr: netip.MustParseAddr("2001:db8::1").AsSlice(), port: []byte{0x00, 0x50}, bound: "[2001:db8::1]:80"},
		{name: "domain", atyp: txsocks5.ATYPDomain, addr: []byte("proxy.example"), port: []byte{0x04, 0x38}, bound: "proxy.example:1080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &staticResolver{addr: netip.MustParseAddr("10.1.2.3")}
			h := &SOCKS5{Resolver: r, Log: zaptest.NewLogger(t)}

			res, err := run(t, h, Endpoint{Host: "dest.example", Port: 443}, func(c net.Conn) error {
				neg, err := txsocks5.NewNegotiationRequestFrom(c)
				if err != nil {
					return err
				}
				if !bytes.Equal(neg.Methods, []byte{txsocks5.MethodNone, txsocks5.MethodUsernamePassword}) {
					return fmt.Errorf("unexpected methods % x", neg.Methods)
				}
				if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
					return err
				}
				req, err := txsocks5.NewRequestFrom(c)
				if err != nil {
					return err
				}
				if req.Cmd != txsocks5.CmdConnect || req.Atyp != txsocks5.ATYPIPv4 {
					return fmt.Errorf("unexpected request cmd %d atyp %d", req.Cmd, req.Atyp)
				}
				if got := req.Address(); got != "10.1.2.3:443" {
					return fmt.Errorf("unexpected destination %q", got)
				}
				_, err = txsocks5.NewReply(txsocks5.RepSuccess, tt.atyp, tt.addr, tt.port).WriteTo(c)
				return err
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.Detail != "bound "+tt.bound {
				t.Fatalf("unexpected detail %q", res.Detail)
			}
			if r.calls.Load() != 1 {
				t.Fatalf("expected one resolve, got %d", r.calls.Load())
			}
		})
	}
}

func TestSOCKS5TunnelBytesFollowReply(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
			return err
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(serverConn); err != nil {
			return err
		}
		if _, err := txsocks5.NewRequestFrom(serverConn); err != nil {
			return err
		}
		if _, err := txsocks5.NewReply(txsocks5.RepSuccess, txsocks5.ATYPIPv4, []byte{127, 0, 0, 1}, []byte{0, 1}).WriteTo(serverConn); err != nil {
			return err
		}
		_, err := serverConn.Write([]byte("payload"))
		return err
	})

	h := &SOCKS5{Resolver: resolve.System{}}
	res, err := h.Handshake(context.Background(), clientConn, Endpoint{Host: "127.0.0.1", Port: 80})
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len("payload"))
	if _, err := io.ReadFull(res.Conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "payload" {
		t.Fatalf("unexpected tunnel bytes %q", buf)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSOCKS5GreetingFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reply  []byte
		reason Reason
		code   int
	}{
		{name: "no_acceptable", reply: []byte{0x05, 0xff}, reason: UnsupportedAuthMethod, code: 0xff},
		{name: "user_pass", reply: []byte{0x05, 0x02}, reason: UnsupportedAuthMethod, code: 0x02},
		{name: "gssapi", reply: []byte{0x05, 0x01}, reason: UnsupportedAuthMethod, code: 0x01},
		{name: "version", reply: []byte{0x04, 0x00}, reason: ProtocolVersionMismatch, code: 0x04},
		{name: "short", reply: []byte{0x05}, reason: WireDecodeError, code: NoCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &staticResolver{addr: netip.MustParseAddr("10.1.2.3")}
			h := &SOCKS5{Resolver: r}

			_, err := run(t, h, Endpoint{Host: "dest.example", Port: 80}, func(c net.Conn) error {
				if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
					return err
				}
				if _, err := c.Write(tt.reply); err != nil {
					return err
				}
				return c.Close()
			})
			he := expectReason(t, err, tt.reason)
			if he.Code != tt.code {
				t.Fatalf("expected code %#x, got %#x", tt.code, he.Code)
			}
			if r.calls.Load() != 0 {
				t.Fatalf("resolver called after failed greeting")
			}
		})
	}
}

func TestSOCKS5Rejected(t *testing.T) {
	t.Parallel()

	for rep := byte(0x01); rep <= 0x08; rep++ {
		t.Run(fmt.Sprintf("rep_%#x", rep), func(t *testing.T) {
			t.Parallel()

			h := &SOCKS5{Resolver: resolve.System{}}
			_, err := run(t, h, Endpoint{Host: "127.0.0.1", Port: 80}, func(c net.Conn) error {
				if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
					return err
				}
				if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
					return err
				}
				if _, err := txsocks5.NewRequestFrom(c); err != nil {
					return err
				}
				_, _ = txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)
				return nil
			})
			he := expectReason(t, err, ProxyRejected)
			if he.Code != int(rep) {
				t.Fatalf("expected code %#x, got %#x", rep, he.Code)
			}
			if he.Msg == "" {
				t.Fatalf("expected a reply description")
			}
		})
	}
}

func TestSOCKS5ReplyFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reply  []byte
		reason Reason
	}{
		{name: "unknown_reply", reply: []byte{0x05, 0x09, 0x00, 0x01}, reason: WireDecodeError},
		{name: "version", reply: []byte{0x04, 0x00, 0x00, 0x01}, reason: ProtocolVersionMismatch},
		{name: "truncated_header", reply: []byte{0x05, 0x00, 0x00}, reason: WireDecodeError},
		{name: "truncated_bound", reply: []byte{0x05, 0x00, 0x00, 0x01, 127, 0}, reason: WireDecodeError},
		{name: "bad_atyp", reply: []byte{0x05, 0x00, 0x00, 0x07}, reason: WireDecodeError},
		{name: "closed", reply: nil, reason: IoError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &SOCKS5{Resolver: resolve.System{}}
			_, err := run(t, h, Endpoint{Host: "127.0.0.1", Port: 80}, func(c net.Conn) error {
				if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
					return err
				}
				if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
					return err
				}
				if _, err := txsocks5.NewRequestFrom(c); err != nil {
					return err
				}
				if len(tt.reply) > 0 {
					if _, err := c.Write(tt.reply); err != nil {
						return err
					}
				}
				return c.Close()
			})
			he := expectReason(t, err, tt.reason)
			if tt.reason == IoError && he.Status != socket.Disconnected {
				t.Fatalf("expected disconnected status, got %v", he.Status)
			}
		})
	}
}

func TestSOCKS5ResolveFailureSendsNoRequest(t *testing.T) {
	t.Parallel()

	r := &staticResolver{err: resolve.ErrNotResolvable}
	h := &SOCKS5{Resolver: r}

	_, err := run(t, h, Endpoint{Host: "nowhere.invalid", Port: 80}, func(c net.Conn) error {
		if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
			return err
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
		var b [1]byte
		if n, err := c.Read(b[:]); n > 0 || !errors.Is(err, io.EOF) {
			return fmt.Errorf("expected no connect request, read %d bytes: %v", n, err)
		}
		return nil
	})
	expectReason(t, err, AddressNotResolvable)
	if r.calls.Load() != 1 {
		t.Fatalf("expected one resolve, got %d", r.calls.Load())
	}
}

func TestSOCKS4(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reply  []byte
		reason Reason
		code   int
	}{
		{name: "granted", reply: []byte{0x00, 90, 0, 0, 0, 0, 0, 0}, reason: None, code: NoCode},
		{name: "granted_vn4", reply: []byte{0x04, 90, 0, 0, 0, 0, 0, 0}, reason: None, code: NoCode},
		{name: "rejected", reply: []byte{0x00, 91, 0, 0, 0, 0, 0, 0}, reason: ProxyRejected, code: 91},
		{name: "ident_unreachable", reply: []byte{0x00, 92, 0, 0, 0, 0, 0, 0}, reason: ProxyRejected, code: 92},
		{name: "ident_mismatch", reply: []byte{0x00, 93, 0, 0, 0, 0, 0, 0}, reason: ProxyRejected, code: 93},
		{name: "unknown_code", reply: []byte{0x00, 94, 0, 0, 0, 0, 0, 0}, reason: WireDecodeError, code: 94},
		{name: "version", reply: []byte{0x05, 90, 0, 0, 0, 0, 0, 0}, reason: ProtocolVersionMismatch, code: 0x05},
		{name: "short", reply: []byte{0x00, 90, 0}, reason: WireDecodeError, code: NoCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &staticResolver{addr: netip.MustParseAddr("192.168.1.20")}
			h := &SOCKS4{Resolver: r, Log: zaptest.NewLogger(t)}

			_, err := run(t, h, Endpoint{Host: "dest.example", Port: 8080}, func(c net.Conn) error {
				var req [9]byte
				if _, err := io.ReadFull(c, req[:]); err != nil {
					return err
				}
				want := []byte{0x04, 0x01, 0x1f, 0x90, 192, 168, 1, 20, 0x00}
				if !bytes.Equal(req[:], want) {
					return fmt.Errorf("unexpected request % x", req)
				}
				if _, err := c.Write(tt.reply); err != nil {
					return err
				}
				return c.Close()
			})
			if tt.reason == None {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			he := expectReason(t, err, tt.reason)
			if he.Code != tt.code {
				t.Fatalf("expected code %d, got %d", tt.code, he.Code)
			}
		})
	}
}

func TestSOCKS4ResolveFailure(t *testing.T) {
	t.Parallel()

	h := &SOCKS4{Resolver: &staticResolver{err: resolve.ErrNotResolvable}}
	_, err := run(t, h, Endpoint{Host: "nowhere.invalid", Port: 80}, func(c net.Conn) error {
		var b [1]byte
		if n, err := c.Read(b[:]); n > 0 || !errors.Is(err, io.EOF) {
			return fmt.Errorf("expected no request, read %d bytes: %v", n, err)
		}
		return nil
	})
	expectReason(t, err, AddressNotResolvable)
}

func TestSettleHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := settle(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("settle ignored cancellation")
	}
	if err := settle(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := rejected(Socks4, "connect", 91, "request rejected or failed")
	want := "socks4 connect: proxy rejected: request rejected or failed (code 0x5b)"
	if err.Error() != want {
		t.Fatalf("expected %q got %q", want, err.Error())
	}
	if ReasonOf(nil) != None {
		t.Fatalf("expected None for nil error")
	}
	if ReasonOf(io.EOF) != IoError {
		t.Fatalf("expected IoError for foreign error")
	}
	wrapped := fmt.Errorf("dial: %w", err)
	if ReasonOf(wrapped) != ProxyRejected {
		t.Fatalf("expected ProxyRejected through wrapping")
	}
}
