package dialer

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/handshake"
	"github.com/die-net/burrow/internal/session"
)

// ProxyDialer dials outbound TCP connections through a SOCKS4, SOCKS5 or
// HTTP CONNECT proxy.
type ProxyDialer struct {
	cfg     Config
	variant handshake.Variant
	proxy   handshake.Endpoint
	creds   handshake.Credentials
	direct  Dialer
}

// NewProxyDialer constructs a dialer that tunnels through the proxy at
// proxyAddr. Credentials are only used by the HTTP variant.
func NewProxyDialer(cfg Config, v handshake.Variant, proxyAddr string, creds handshake.Credentials) (*ProxyDialer, error) {
	return newProxyDialer(cfg, v, proxyAddr, creds, nil)
}

func newProxyDialer(cfg Config, v handshake.Variant, proxyAddr string, creds handshake.Credentials, direct Dialer) (*ProxyDialer, error) {
	proxy, err := handshake.ParseEndpoint(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("%s proxy dialer: %w", v, err)
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if direct == nil {
		direct = NewDirectDialer(cfg)
	}
	return &ProxyDialer{
		cfg:     cfg,
		variant: v,
		proxy:   proxy,
		creds:   creds,
		direct:  direct,
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (f *ProxyDialer) ProxyAddr() string {
	return f.proxy.String()
}

// Variant returns the handshake the dialer runs.
func (f *ProxyDialer) Variant() handshake.Variant {
	return f.variant
}

// Direct returns the underlying dialer used to reach the proxy.
func (f *ProxyDialer) Direct() Dialer {
	return f.direct
}

// DialContext establishes a TCP connection to address via the proxy.
//
// Negotiation is performed synchronously before returning. If
// NegotiationTimeout is set, a deadline is applied during negotiation and
// cleared before returning. Handshake failures wrap a *handshake.Error.
func (f *ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4":
	default:
		return nil, fmt.Errorf("%s proxy dial %s %s: unsupported network", f.variant, network, address)
	}
	dest, err := handshake.ParseEndpoint(address)
	if err != nil {
		return nil, fmt.Errorf("%s proxy dial: %w", f.variant, err)
	}

	s := session.New(session.Config{
		NegotiationTimeout: f.cfg.NegotiationTimeout,
		SettleDelay:        f.cfg.SettleDelay,
		Resolver:           f.cfg.Resolver,
		Dialer:             f.direct,
		Log:                f.cfg.Log,
	})
	if err := s.Open(ctx, f.proxy, dest, f.creds); err != nil {
		return nil, fmt.Errorf("%s proxy %s: %w", f.variant, f.proxy, err)
	}
	if err := s.Negotiate(ctx, f.variant); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%s proxy %s: %w", f.variant, f.proxy, err)
	}
	return s.Detach()
}

// Dial is DialContext without a context, for golang.org/x/net/proxy.
func (f *ProxyDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}
