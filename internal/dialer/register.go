package dialer

import (
	"context"
	"net"
	"net/url"
	"sync"

	"golang.org/x/net/proxy"
)

var registerOnce sync.Once

// RegisterProxySchemes teaches proxy.FromURL the socks4 and http schemes,
// built with cfg. The forward dialer proxy.FromURL passes in is used to reach
// the proxy itself. socks5 stays with x/net's own implementation, which
// FromURL always prefers. Only the first call has any effect.
func RegisterProxySchemes(cfg Config) {
	registerOnce.Do(func() {
		for _, scheme := range []string{"socks4", "http"} {
			proxy.RegisterDialerType(scheme, func(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
				up, err := parseUpstreamURL(u)
				if err != nil {
					return nil, err
				}
				d, err := up.dialer(cfg, forwardDialer{forward})
				if err != nil {
					return nil, err
				}
				return d.(proxy.Dialer), nil
			})
		}
	})
}

// forwardDialer adapts a proxy.Dialer to Dialer.
type forwardDialer struct {
	proxy.Dialer
}

func (f forwardDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := f.Dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return f.Dial(network, address)
}

var (
	_ proxy.ContextDialer = (*ProxyDialer)(nil)
	_ proxy.Dialer        = (*ProxyDialer)(nil)
	_ proxy.ContextDialer = (*directDialer)(nil)
)
