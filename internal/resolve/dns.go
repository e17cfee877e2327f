package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNS resolves A records against one explicit name server instead of the
// platform configuration.
type DNS struct {
	server string
	client *dns.Client
}

// NewDNS returns a resolver querying server ("host" or "host:port", port 53
// by default) over UDP. A zero timeout uses the miekg/dns default.
func NewDNS(server string, timeout time.Duration) (*DNS, error) {
	if server == "" {
		return nil, errors.New("dns resolver: missing server")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNS{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

// Server returns the name server address queried.
func (d *DNS) Server() string {
	return d.server
}

// Resolve returns the first A record for host. CNAMEs in the answer section
// are skipped.
func (d *DNS) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if host == "" {
		return netip.Addr{}, fmt.Errorf("%w: empty host", ErrNotResolvable)
	}
	if a, ok, err := Literal(host); ok {
		return a, err
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := d.client.ExchangeContext(ctx, m, d.server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: query %s: %w", ErrNotResolvable, host, d.server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("%w: %s: %s", ErrNotResolvable, host, dns.RcodeToString[in.Rcode])
	}

	var addrs []netip.Addr
	for _, rr := range in.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
			addrs = append(addrs, addr)
		}
	}
	return first4(host, addrs)
}
