package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/burrow/internal/handshake"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses upstream and constructs the appropriate outbound Dialer.
//
// Supported schemes:
//   - direct://
//   - http://[user:pass@]host:port
//   - socks4://host:port
//   - socks5://host:port
//
// For schemes that require a host, a default port is applied if the URL host is
// missing a port.
func New(cfg Config, upstream string) (Dialer, error) {
	up, err := ParseUpstream(upstream)
	if err != nil {
		return nil, err
	}
	return up.dialer(cfg, nil)
}

// Upstream is a parsed upstream URL.
type Upstream struct {
	// Direct is set for direct://; the other fields are then empty.
	Direct      bool
	Variant     handshake.Variant
	Proxy       handshake.Endpoint
	Credentials handshake.Credentials
}

// ParseUpstream parses an upstream URL as accepted by New.
func ParseUpstream(upstream string) (Upstream, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return Upstream{}, fmt.Errorf("invalid url: %w", err)
	}
	return parseUpstreamURL(u)
}

func parseUpstreamURL(u *url.URL) (Upstream, error) {
	scheme := strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return Upstream{}, errors.New("invalid URL: path should be empty")
	}

	switch scheme {
	case "":
		return Upstream{}, errors.New("invalid url: missing scheme")
	case "direct":
		return Upstream{Direct: true}, nil
	case "http", "socks4", "socks5":
		host := u.Hostname()
		if host == "" {
			return Upstream{}, fmt.Errorf("invalid url: missing %s proxy host", scheme)
		}
		addr := u.Host
		if u.Port() == "" {
			addr = net.JoinHostPort(host, defaultPortForScheme(scheme))
		}
		proxy, err := handshake.ParseEndpoint(addr)
		if err != nil {
			return Upstream{}, fmt.Errorf("invalid url: %w", err)
		}

		v, err := handshake.ParseVariant(scheme)
		if err != nil {
			return Upstream{}, err
		}
		if v != handshake.HTTP && u.User != nil {
			return Upstream{}, fmt.Errorf("invalid url: %s proxies do not support credentials", scheme)
		}

		up := Upstream{Variant: v, Proxy: proxy}
		if u.User != nil {
			up.Credentials.Username = u.User.Username()
			up.Credentials.Password, _ = u.User.Password()
		}
		return up, nil
	default:
		return Upstream{}, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

func (up Upstream) dialer(cfg Config, direct Dialer) (Dialer, error) {
	if up.Direct {
		return NewDirectDialer(cfg), nil
	}
	return newProxyDialer(cfg, up.Variant, up.Proxy.String(), up.Credentials, direct)
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "socks4", "socks5":
		return "1080"
	default:
		return ""
	}
}
