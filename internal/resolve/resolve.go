// Package resolve turns destination hostnames into IPv4 addresses for SOCKS
// wire encoding.
//
// Dotted-decimal literals are parsed without a lookup. Anything else goes
// through a single blocking lookup whose first IPv4 answer wins. There are no
// retries; callers abort their handshake on the first failure.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrNotResolvable is returned when a hostname has no usable IPv4 address.
var ErrNotResolvable = errors.New("address not resolvable")

// Resolver maps a hostname to an IPv4 address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}

// Literal parses host as an IP literal. ok is false when host is not a
// literal at all; a literal that is not IPv4 returns ErrNotResolvable.
func Literal(host string) (addr netip.Addr, ok bool, err error) {
	a, perr := netip.ParseAddr(host)
	if perr != nil {
		return netip.Addr{}, false, nil
	}
	a = a.Unmap()
	if !a.Is4() {
		return netip.Addr{}, true, fmt.Errorf("%w: %s is not ipv4", ErrNotResolvable, host)
	}
	return a, true, nil
}

// System resolves through the platform resolver.
type System struct {
	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

// Resolve returns host itself when it is an IPv4 literal, otherwise the first
// IPv4 address the platform lookup returns.
func (s System) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if host == "" {
		return netip.Addr{}, fmt.Errorf("%w: empty host", ErrNotResolvable)
	}
	if a, ok, err := Literal(host); ok {
		return a, err
	}

	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrNotResolvable, host, err)
	}
	return first4(host, addrs)
}

func first4(host string, addrs []netip.Addr) (netip.Addr, error) {
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s: no records", ErrNotResolvable, host)
	}
	a := addrs[0].Unmap()
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s: first record %s is not ipv4", ErrNotResolvable, host, a)
	}
	return a, nil
}
